package models

import "net/http"

// OriginProtocol is how the CDN talks to an origin.
type OriginProtocol string

const (
	HttpOnly  OriginProtocol = "http-only"
	HttpsOnly OriginProtocol = "https-only"
)

// AllMethods is every method the CDN can pass through to an origin.
var AllMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPut,
	http.MethodPatch,
	http.MethodPost,
	http.MethodDelete,
}

// ReadMethods are the methods a static origin needs.
var ReadMethods = []string{http.MethodGet, http.MethodHead}

// OriginRef identifies an origin inside a distribution.
type OriginRef struct {
	Id         string
	DomainName string
	Protocol   OriginProtocol
}

// CacheTtl in seconds.
type CacheTtl struct {
	Min     int64
	Max     int64
	Default int64
}

// OriginRule is a single path based routing and caching rule.
type OriginRule struct {
	Origin OriginRef

	// Empty for the default rule.
	PathPattern string

	// The catch-all rule, there must be exactly one and it is evaluated last.
	Default bool

	AllowedMethods []string

	// nil means the provider defaults apply.
	CacheTtl *CacheTtl

	ForwardedHeaders   []string
	ForwardQueryString bool
}

// StaticSiteOrigin describes where the built site is served from.
type StaticSiteOrigin struct {
	Hostname string
	HttpOnly bool
}

// MatchPathPattern reports whether path matches a CloudFront style pattern, where * matches any run of
// characters including slashes and ? matches exactly one. Matching is case sensitive.
func MatchPathPattern(pattern, path string) bool {
	if pattern != "" && pattern[0] != '/' {
		pattern = "/" + pattern
	}
	return matchGlob(pattern, path)
}

func matchGlob(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchGlob(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
		default:
			if s == "" || s[0] != pattern[0] {
				return false
			}
		}
		pattern, s = pattern[1:], s[1:]
	}
	return s == ""
}

// MatchRule returns the rule a request path is routed to: the first non-default rule in order whose pattern
// matches, otherwise the default rule. ok is false when nothing matches and there is no default.
func MatchRule(rules []OriginRule, path string) (OriginRule, bool) {
	var def *OriginRule
	for idx := range rules {
		if rules[idx].Default {
			if def == nil {
				def = &rules[idx]
			}
			continue
		}
		if MatchPathPattern(rules[idx].PathPattern, path) {
			return rules[idx], true
		}
	}
	if def == nil {
		return OriginRule{}, false
	}
	return *def, true
}
