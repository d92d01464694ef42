package fakes

import (
	"net/http"
	"net/http/httptest"

	"github.com/18f/site-pipeline/models"
)

// Edge routes requests the way the distribution is configured to: rule order, default root object and the
// custom error response. Origins are keyed by origin id.
type Edge struct {
	Rules      []models.OriginRule
	Fallback   models.ErrorFallback
	RootObject string
	Origins    map[string]http.Handler
}

func NewEdge(distribution models.Distribution, rootObject string, origins map[string]http.Handler) *Edge {
	return &Edge{
		Rules:      distribution.Origins,
		Fallback:   distribution.Fallback,
		RootObject: rootObject,
		Origins:    origins,
	}
}

func (e *Edge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" && e.RootObject != "" {
		path = "/" + e.RootObject
	}

	rec := e.fetch(r, path)
	if e.Fallback.MatchStatus != 0 && rec.Code == e.Fallback.MatchStatus {
		page := e.fetch(r, e.Fallback.RewriteTo)
		if page.Code == http.StatusOK {
			copyHeader(w.Header(), page.Header())
			w.WriteHeader(e.Fallback.RespondStatus)
			_, _ = w.Write(page.Body.Bytes())
			return
		}
	}

	copyHeader(w.Header(), rec.Header())
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

func (e *Edge) fetch(r *http.Request, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()

	rule, ok := models.MatchRule(e.Rules, path)
	if !ok {
		rec.WriteHeader(http.StatusBadGateway)
		return rec
	}
	origin, ok := e.Origins[rule.Origin.Id]
	if !ok {
		rec.WriteHeader(http.StatusBadGateway)
		return rec
	}

	req := r.Clone(r.Context())
	req.URL.Path = path
	origin.ServeHTTP(rec, req)
	return rec
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = v
	}
}
