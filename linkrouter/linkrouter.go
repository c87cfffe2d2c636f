// Package linkrouter serves the opaque /<prefix>/<token> links emitted by
// the markup transformer.
//
// A link token is looked up in the session's reverse link index. On a hit
// the request is cloned with the original path and handed to the content
// handler, which runs inside the transform middleware, so the target is
// itself rewritten before delivery. On a miss the session record is reloaded
// once, since a concurrent request of the same session may have committed
// the link a moment ago; a second miss is a 404.
package linkrouter

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/logger"
	"github.com/firasghr/GoShroud/metrics"
	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/session"
	"github.com/firasghr/GoShroud/tokenizer"
)

// Router resolves link tokens and re-dispatches to the content handler.
type Router struct {
	prefix  string
	mgr     *session.Manager
	next    http.Handler
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New returns a Router for links under /prefix/. next serves the original
// paths.
func New(prefix string, mgr *session.Manager, next http.Handler, m *metrics.Metrics, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Router{
		prefix:  strings.Trim(prefix, "/"),
		mgr:     mgr,
		next:    next,
		metrics: m,
		log:     log.Named("linkrouter"),
	}
}

// Pattern is the path prefix the Router must be mounted on.
func (rt *Router) Pattern() string { return "/" + rt.prefix + "/" }

// Resolve strips the link prefix and any extension from requestPath and
// returns the original path behind the token.
func (rt *Router) Resolve(requestPath string, ctx *obfuscation.Context) (string, bool) {
	tok, ok := strings.CutPrefix(requestPath, rt.Pattern())
	if !ok || tok == "" || strings.Contains(tok, "/") {
		return "", false
	}
	if i := strings.IndexByte(tok, '.'); i >= 0 {
		tok = tok[:i]
	}
	return ctx.Reverse(tokenizer.Link, tok)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	oc, ok := obfuscation.FromContext(r.Context())
	if !ok {
		http.NotFound(w, r)
		return
	}

	orig, ok := rt.Resolve(r.URL.Path, oc)
	if !ok && rt.reload(r, oc) {
		orig, ok = rt.Resolve(r.URL.Path, oc)
	}
	if !ok {
		rt.metrics.LinkMisses.Add(1)
		http.NotFound(w, r)
		return
	}
	rt.metrics.LinkHits.Add(1)

	r2 := r.Clone(r.Context())
	r2.URL.Path = orig
	r2.URL.RawPath = ""
	r2.URL.RawQuery = ""
	r2.RequestURI = orig
	rt.next.ServeHTTP(w, r2)
}

// reload swaps oc's snapshot for the latest committed record.
func (rt *Router) reload(r *http.Request, oc *obfuscation.Context) bool {
	rec, ok := session.FromContext(r.Context())
	if !ok || rt.mgr == nil {
		return false
	}
	fresh, err := rt.mgr.Load(r.Context(), rec.ID)
	if err != nil {
		rt.log.Debug("link reload failed", zap.String("id", rec.ID), zap.Error(err))
		return false
	}
	oc.Rebase(fresh.Mappings)
	return true
}
