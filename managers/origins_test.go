package managers

import (
	"strings"
	"testing"

	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"pgregory.net/rapid"
)

type OriginRulesSuite struct {
	suite.Suite
	site models.StaticSiteOrigin
}

func TestOriginRulesSuite(t *testing.T) {
	suite.Run(t, new(OriginRulesSuite))
}

func (s *OriginRulesSuite) SetupTest() {
	s.site = models.StaticSiteOrigin{Hostname: "example.com.s3-website-us-east-1.amazonaws.com", HttpOnly: true}
}

func (s *OriginRulesSuite) TestBuildOriginRules() {
	rules, err := BuildOriginRules("api.internal", s.site)
	s.Require().NoError(err, "there should be no error building the rules")
	s.Require().Len(rules, 2, "there should be a backend rule and a default")

	backend := rules[0]
	s.Require().False(backend.Default, "the backend rule should come first")
	s.Require().Equal(sitepipeline.BackendPathPattern, backend.PathPattern, "the backend rule should match the backend prefix")
	s.Require().Equal("api.internal", backend.Origin.DomainName, "the backend rule should point at the backend")
	s.Require().Equal(models.HttpsOnly, backend.Origin.Protocol, "the backend should only be reached over https")
	s.Require().Equal(&models.CacheTtl{Min: 0, Max: 0, Default: 0}, backend.CacheTtl, "backend responses should never be cached")
	s.Require().Len(backend.AllowedMethods, 7, "the backend should allow every method")
	s.Require().True(backend.ForwardQueryString, "the backend should see query strings")

	site := rules[1]
	s.Require().True(site.Default, "the site rule should be the default")
	s.Require().Equal(models.HttpOnly, site.Origin.Protocol, "a bucket website is only reachable over http")
	s.Require().ElementsMatch([]string{"GET", "HEAD"}, site.AllowedMethods, "the site should be read only")

	s.Require().NoError(ValidateOriginRules(rules), "the built rules should validate")
}

func (s *OriginRulesSuite) TestBuildOriginRulesInvalidHostnames() {
	for _, backend := range []string{"", "  ", "api_internal!", "http://api.internal", "api internal"} {
		_, err := BuildOriginRules(backend, s.site)
		var oerr *InvalidOriginError
		s.Require().True(errors.As(err, &oerr), "%q should be an invalid origin", backend)
		s.Require().Equal(OriginBuilderComponent, ComponentOf(err), "the error should belong to the origin builder")
		s.Require().False(IsRetryable(err), "an invalid origin should not be retried")
	}

	_, err := BuildOriginRules("api.internal", models.StaticSiteOrigin{})
	var oerr *InvalidOriginError
	s.Require().True(errors.As(err, &oerr), "an empty site origin should be invalid")
}

func (s *OriginRulesSuite) TestValidateOriginRulesRejects() {
	rules, err := BuildOriginRules("api.internal", s.site)
	s.Require().NoError(err, "there should be no error building the rules")

	cases := map[string][]models.OriginRule{
		"no rules":         nil,
		"default first":    {rules[1], rules[0]},
		"no default":       {rules[0]},
		"two defaults":     {rules[0], rules[1], rules[1]},
		"duplicate prefix": {rules[0], rules[0], rules[1]},
		"shadowed": {
			{Origin: rules[0].Origin, PathPattern: "/Prod*", AllowedMethods: models.ReadMethods},
			rules[0],
			rules[1],
		},
		"no backend": {
			{Origin: rules[0].Origin, PathPattern: "/api/*", AllowedMethods: models.AllMethods},
			rules[1],
		},
		"no methods": {
			{Origin: rules[0].Origin, PathPattern: rules[0].PathPattern},
			rules[1],
		},
	}

	for name, c := range cases {
		err := ValidateOriginRules(c)
		var derr *DistributionConfigError
		s.Require().True(errors.As(err, &derr), "%s should be a distribution config error", name)
	}
}

func (s *OriginRulesSuite) TestMatchPathPattern() {
	s.Require().True(models.MatchPathPattern("/Prod/*", "/Prod/"), "a trailing wildcard should match nothing")
	s.Require().True(models.MatchPathPattern("/Prod/*", "/Prod/v1/items"), "a wildcard should cross slashes")
	s.Require().False(models.MatchPathPattern("/Prod/*", "/Prod"), "the prefix without its slash should not match")
	s.Require().False(models.MatchPathPattern("/Prod/*", "/prod/users"), "patterns should be case sensitive")
	s.Require().True(models.MatchPathPattern("/images/*.jp?", "/images/a/b.jpg"), "? should match a single character")
}

func hostnameGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9]{0,10}(\.[a-z][a-z0-9]{0,10}){1,3}`)
}

func (s *OriginRulesSuite) TestPropertyExactlyOneDefaultLast() {
	rapid.Check(s.T(), func(t *rapid.T) {
		backend := hostnameGen().Draw(t, "backend")
		site := models.StaticSiteOrigin{Hostname: hostnameGen().Draw(t, "site"), HttpOnly: rapid.Bool().Draw(t, "http-only")}

		rules, err := BuildOriginRules(backend, site)
		if err != nil {
			t.Fatalf("valid hostnames were rejected: %s", err)
		}

		defaults := 0
		for _, r := range rules {
			if r.Default {
				defaults++
			}
		}
		if defaults != 1 || !rules[len(rules)-1].Default {
			t.Fatalf("expected exactly one default rule, evaluated last: %+v", rules)
		}
		if rules[0].Default || rules[0].Origin.DomainName != backend {
			t.Fatalf("the backend rule should precede the default: %+v", rules)
		}
		if err := ValidateOriginRules(rules); err != nil {
			t.Fatalf("built rules should validate: %s", err)
		}
	})
}

func (s *OriginRulesSuite) TestPropertyBackendPathsNeverHitDefault() {
	rules, err := BuildOriginRules("api.internal", s.site)
	s.Require().NoError(err, "there should be no error building the rules")
	prefix := strings.TrimSuffix(sitepipeline.BackendPathPattern, "*")

	rapid.Check(s.T(), func(t *rapid.T) {
		path := prefix + rapid.StringMatching(`[A-Za-z0-9._~/-]{0,40}`).Draw(t, "rest")
		rule, ok := models.MatchRule(rules, path)
		if !ok || rule.Default || rule.Origin.Id != BackendOriginId {
			t.Fatalf("%s routed to %+v", path, rule)
		}
	})
}

func (s *OriginRulesSuite) TestPropertyOtherPathsHitDefault() {
	rules, err := BuildOriginRules("api.internal", s.site)
	s.Require().NoError(err, "there should be no error building the rules")
	prefix := strings.TrimSuffix(sitepipeline.BackendPathPattern, "*")

	rapid.Check(s.T(), func(t *rapid.T) {
		path := "/" + rapid.StringMatching(`[A-Za-z0-9._~/-]{0,40}`).Draw(t, "rest")
		if strings.HasPrefix(path, prefix) {
			t.Skip("backend path")
		}
		rule, ok := models.MatchRule(rules, path)
		if !ok || !rule.Default {
			t.Fatalf("%s should be served by the default rule, got %+v", path, rule)
		}
	})
}
