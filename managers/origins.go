package managers

import (
	"fmt"
	"strings"

	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	BackendOriginId = "backend"
	SiteOriginId    = "site"
)

// BackendForwardedHeaders are passed through so authenticated API calls keep working behind the CDN.
var BackendForwardedHeaders = []string{"Authorization", "Accept", "Referer"}

var hostnames = validator.New()

// BuildOriginRules returns the backend rule followed by the static site default. The order is the routing
// contract: the CDN evaluates rules top down, so the backend rule has to come first or API calls fall into the
// site.
func BuildOriginRules(backendHostname string, site models.StaticSiteOrigin) ([]models.OriginRule, error) {
	if err := checkHostname("backend hostname", backendHostname); err != nil {
		return nil, err
	}
	if err := checkHostname("static site hostname", site.Hostname); err != nil {
		return nil, err
	}

	siteProtocol := models.HttpsOnly
	if site.HttpOnly {
		siteProtocol = models.HttpOnly
	}

	return []models.OriginRule{
		{
			Origin: models.OriginRef{
				Id:         BackendOriginId,
				DomainName: strings.ToLower(backendHostname),
				Protocol:   models.HttpsOnly,
			},
			PathPattern:        sitepipeline.BackendPathPattern,
			AllowedMethods:     append([]string(nil), models.AllMethods...),
			CacheTtl:           &models.CacheTtl{Min: 0, Max: 0, Default: 0},
			ForwardedHeaders:   append([]string(nil), BackendForwardedHeaders...),
			ForwardQueryString: true,
		},
		{
			Origin: models.OriginRef{
				Id:         SiteOriginId,
				DomainName: strings.ToLower(site.Hostname),
				Protocol:   siteProtocol,
			},
			Default:        true,
			AllowedMethods: append([]string(nil), models.ReadMethods...),
		},
	}, nil
}

func checkHostname(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &InvalidOriginError{Field: field, Value: value, Reason: "hostname cannot be empty"}
	}
	if err := hostnames.Var(value, "hostname_rfc1123"); err != nil {
		return &InvalidOriginError{Field: field, Value: value, Reason: "not a valid hostname"}
	}
	return nil
}

// ValidateOriginRules checks the structure a distribution depends on. Beyond the default rule being unique and
// last, a non-default rule may not be shadowed by an earlier one, and every path under the backend prefix must
// route to the backend and never to the default.
func ValidateOriginRules(rules []models.OriginRule) error {
	if len(rules) == 0 {
		return &DistributionConfigError{Reason: "no origin rules"}
	}

	defaults := lo.CountBy(rules, func(r models.OriginRule) bool { return r.Default })
	switch {
	case defaults == 0:
		return &DistributionConfigError{Reason: "no default rule"}
	case defaults > 1:
		return &DistributionConfigError{Reason: fmt.Sprintf("%d default rules, expected exactly one", defaults)}
	case !rules[len(rules)-1].Default:
		return &DistributionConfigError{Reason: "the default rule must be evaluated last"}
	}

	seen := make(map[string]bool)
	for idx, r := range rules {
		if r.Origin.Id == "" || r.Origin.DomainName == "" {
			return &DistributionConfigError{Reason: fmt.Sprintf("rule %d has no origin", idx)}
		}
		if len(r.AllowedMethods) == 0 {
			return &DistributionConfigError{Reason: fmt.Sprintf("rule %d allows no methods", idx)}
		}
		if r.Default {
			continue
		}
		if r.PathPattern == "" {
			return &DistributionConfigError{Reason: fmt.Sprintf("rule %d has an empty path pattern", idx)}
		}
		if seen[r.PathPattern] {
			return &DistributionConfigError{Reason: fmt.Sprintf("duplicate path pattern %s", r.PathPattern)}
		}
		seen[r.PathPattern] = true

		for _, earlier := range rules[:idx] {
			if !earlier.Default && shadows(earlier.PathPattern, r.PathPattern) {
				return &DistributionConfigError{Reason: fmt.Sprintf("%s is never reached, %s matches first", r.PathPattern, earlier.PathPattern)}
			}
		}
	}

	for _, probe := range backendProbes() {
		rule, _ := models.MatchRule(rules, probe)
		if rule.Default {
			return &DistributionConfigError{Reason: fmt.Sprintf("backend path %s would be served by the default rule", probe)}
		}
	}

	return nil
}

// shadows reports whether every path matched by later is already matched by earlier. Only literal prefixes
// ending in * are compared, anything else is left to the provider.
func shadows(earlier, later string) bool {
	if !strings.HasSuffix(earlier, "*") || strings.ContainsAny(strings.TrimSuffix(earlier, "*"), "*?") {
		return false
	}
	prefix := strings.TrimSuffix(earlier, "*")
	literal := later
	if i := strings.IndexAny(later, "*?"); i >= 0 {
		literal = later[:i]
	}
	return strings.HasPrefix(literal, prefix)
}

func backendProbes() []string {
	prefix := strings.TrimSuffix(sitepipeline.BackendPathPattern, "*")
	return []string{prefix, prefix + "users", prefix + "v1/items/42", prefix + "index.html"}
}
