// Package tunnel forwards requests under a fixed path prefix to upstream
// services untouched: no gate, no session, no transform.
//
// Architecture:
//   - Upstreams is the round-robin target list, seeded from the config and
//     an optional newline-delimited file.
//   - Tunnel is an http.Handler around one httputil.ReverseProxy. The target
//     is chosen per request before the proxy runs, so a request that finds
//     no upstream is answered 502 without touching the network.
package tunnel

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/logger"
)

type targetKey struct{}

// Tunnel proxies requests to the next upstream in rotation.
type Tunnel struct {
	prefix    string
	upstreams *Upstreams
	proxy     *httputil.ReverseProxy
	log       *logger.Logger
}

// New builds a Tunnel from cfg.
func New(cfg config.TunnelConfig, log *logger.Logger) (*Tunnel, error) {
	if log == nil {
		log = logger.NewNop()
	}
	t := &Tunnel{
		prefix:    cfg.Prefix,
		upstreams: &Upstreams{},
		log:       log.Named("tunnel"),
	}
	if err := t.upstreams.Set(cfg.Upstreams); err != nil {
		return nil, err
	}
	if cfg.UpstreamFile != "" {
		if err := t.upstreams.LoadFile(cfg.UpstreamFile); err != nil {
			return nil, err
		}
	}
	t.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target, _ := pr.In.Context().Value(targetKey{}).(*url.URL)
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:    newTransport(cfg.ResponseHeaderTimeout),
		ErrorHandler: t.proxyError,
	}
	return t, nil
}

// Prefix is the path prefix the Tunnel must be mounted on.
func (t *Tunnel) Prefix() string { return t.prefix }

// Upstreams exposes the rotation.
func (t *Tunnel) Upstreams() *Upstreams { return t.upstreams }

// Matches reports whether p falls under the tunnel prefix.
func (t *Tunnel) Matches(p string) bool {
	return t.prefix != "" && strings.HasPrefix(p, t.prefix)
}

func (t *Tunnel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := t.upstreams.Next()
	if target == nil {
		http.Error(w, "no upstream configured", http.StatusBadGateway)
		return
	}
	t.proxy.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), targetKey{}, target)))
}

func (t *Tunnel) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	t.log.Warn("upstream request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}
