package gateway

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/session"
)

// failedBody is all a client sees of a document whose rewrite failed under
// the fail policy.
const failedBody = "content unavailable"

type contentKind int

const (
	kindOther contentKind = iota
	kindMarkup
	kindStyle
	kindScript
)

func kindOf(contentType string) contentKind {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return kindOther
	}
	switch mt {
	case "text/html":
		return kindMarkup
	case "text/css":
		return kindStyle
	case "text/javascript", "application/javascript", "application/x-javascript",
		"text/ecmascript", "application/ecmascript":
		return kindScript
	}
	return kindOther
}

// conditionalHeaders would let the content handler answer with partial or
// empty bodies that cannot be rewritten.
var conditionalHeaders = []string{
	"Accept-Encoding", "Range", "If-Range",
	"If-Modified-Since", "If-None-Match",
}

// bufferedResponse captures a handler's response so it can be rewritten
// before anything reaches the client.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) code() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

// flush sends the captured response unchanged.
func (b *bufferedResponse) flush(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range b.header {
		h[k] = vs
	}
	w.WriteHeader(b.code())
	_, _ = w.Write(b.body.Bytes())
}

// transform binds a request-local obfuscation context to the request, runs
// the content handler into a buffer, and rewrites successful markup, style
// and script responses before sending them. The context's pending inserts
// are committed to the session before the body leaves.
func (g *Gateway) transform(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := session.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		oc := obfuscation.NewContext(rec.SessionKey, rec.Mappings,
			obfuscation.WithTokenLength(g.cfg.TokenLength),
			obfuscation.WithExclusions(g.exclusions),
		)

		inner := r.Clone(obfuscation.WithContext(r.Context(), oc))
		// HEAD answers with the headers of the rewritten GET body.
		if r.Method == http.MethodHead {
			inner.Method = http.MethodGet
		}
		for _, h := range conditionalHeaders {
			inner.Header.Del(h)
		}
		buf := newBufferedResponse()
		next.ServeHTTP(buf, inner)

		var err error
		kind := kindOf(buf.header.Get("Content-Type"))
		if kind == kindOther || inner.Method != http.MethodGet || buf.code() != http.StatusOK {
			buf.flush(w)
			return
		}

		var out []byte
		if werr := g.pool.Do(r.Context(), func() {
			out, err = g.rewrite(kind, buf.body.Bytes(), oc, r.URL.Path)
		}); werr != nil {
			return
		}
		if err != nil {
			g.metrics.TransformFailures.Add(1)
			g.log.Warn("transform failed",
				zap.String("path", r.URL.Path),
				zap.String("session", rec.ID),
				zap.Error(err),
			)
			if g.cfg.OnError == config.OnErrorPassthrough {
				buf.flush(w)
				return
			}
			http.Error(w, failedBody, http.StatusInternalServerError)
			return
		}

		// A client that went away gets nothing and leaves nothing behind.
		if r.Context().Err() != nil {
			return
		}
		if oc.Pending() > 0 && !rec.Transient {
			delta := oc.Delta()
			_, err := g.mgr.Update(r.Context(), rec.ID, func(s *session.Record) error {
				s.Mappings.Merge(delta)
				return nil
			})
			if err != nil {
				g.log.Error("mapping commit failed", zap.String("session", rec.ID), zap.Error(err))
				http.Error(w, "session backend unavailable", http.StatusInternalServerError)
				return
			}
		}
		g.metrics.Transforms.Add(1)

		h := w.Header()
		for k, vs := range buf.header {
			h[k] = vs
		}
		h.Del("ETag")
		h.Del("Last-Modified")
		h.Del("Accept-Ranges")
		h.Set("Cache-Control", "private, no-cache")
		h.Add("Vary", "Cookie")
		h.Set("Content-Length", strconv.Itoa(len(out)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(out)
		}
	})
}

// rewrite runs the transformer for kind. requestPath anchors relative
// references in markup and stylesheets; for documents served through a link
// it is the original path behind the token.
func (g *Gateway) rewrite(kind contentKind, body []byte, oc *obfuscation.Context, requestPath string) ([]byte, error) {
	docPath := requestPath
	if orig, ok := g.links.Resolve(requestPath, oc); ok {
		docPath = orig
	}
	switch kind {
	case kindMarkup:
		return g.markup.Transform(body, oc, docPath)
	case kindStyle:
		return g.styles.Transform(body, oc, docPath)
	case kindScript:
		return g.scripts.Transform(body, oc)
	}
	return nil, errors.New("gateway: no transformer for content")
}
