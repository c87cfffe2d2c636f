// Package gateway assembles the public HTTP surface: tunnel handoff, session
// binding, the proof-of-work gate, and the transform pipeline in front of the
// static roots and the reverse link router.
//
// Architecture:
//   - A chi router carries the shared middleware (request id, real IP,
//     recoverer, security headers, access log).
//   - The tunnel prefix is mounted before any session middleware, so tunnel
//     traffic never creates a session, meets the gate, or gets transformed.
//   - Everything else runs session middleware → gate. The gate endpoints sit
//     behind those two only; content routes additionally pass through the
//     transform middleware, which buffers the response and rewrites it under
//     the session's obfuscation context.
//   - Rewrites run on a bounded worker pool; a request waiting for a worker
//     is dropped if its client goes away.
package gateway

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/assets"
	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/linkrouter"
	"github.com/firasghr/GoShroud/logger"
	"github.com/firasghr/GoShroud/markup"
	"github.com/firasghr/GoShroud/metrics"
	"github.com/firasghr/GoShroud/obfuscation"
	"github.com/firasghr/GoShroud/pow"
	"github.com/firasghr/GoShroud/script"
	"github.com/firasghr/GoShroud/scriptcheck"
	"github.com/firasghr/GoShroud/session"
	"github.com/firasghr/GoShroud/style"
	"github.com/firasghr/GoShroud/tunnel"
	"github.com/firasghr/GoShroud/worker"
)

// LogoutPath destroys the caller's session.
const LogoutPath = "/logout"

// Gateway is the public http.Handler.
type Gateway struct {
	cfg        config.ObfuscationConfig
	mgr        *session.Manager
	gate       *pow.Gate
	tunnel     *tunnel.Tunnel
	links      *linkrouter.Router
	markup     *markup.Transformer
	scripts    *script.Transformer
	styles     *style.Transformer
	exclusions *obfuscation.Exclusions
	pool       *worker.Pool
	metrics    *metrics.Metrics
	log        *logger.Logger
	router     chi.Router
}

// New wires a Gateway from cfg. mgr owns the session backend; the caller
// closes it. Close releases the rewrite workers.
func New(cfg *config.Config, mgr *session.Manager, m *metrics.Metrics, log *logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}

	gate, err := pow.NewGate(mgr, cfg.Gate, m, log)
	if err != nil {
		return nil, err
	}
	tn, err := tunnel.New(cfg.Tunnel, log)
	if err != nil {
		return nil, err
	}

	var verifier script.Verifier
	if cfg.Obfuscation.VerifyScripts {
		checker, err := scriptcheck.New()
		if err != nil {
			return nil, err
		}
		verifier = checker
	}

	workers := cfg.Obfuscation.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	pool := worker.NewPool(workers)
	pool.Start()

	resolver := assets.NewResolver(cfg.Assets.Roots)
	files := assets.NewFileServer(resolver)
	links := assets.NewLinker(resolver, cfg.Obfuscation.LinkPrefix)

	g := &Gateway{
		cfg:    cfg.Obfuscation,
		mgr:    mgr,
		gate:   gate,
		tunnel: tn,
		scripts: script.New(script.Options{
			Reserved:         cfg.Obfuscation.ReservedIdentifiers,
			Preserved:        cfg.Obfuscation.PreservedLiterals,
			MinLiteralLength: cfg.Obfuscation.MinLiteralLength,
			RenameGlobals:    cfg.Obfuscation.RenameGlobals,
			Verifier:         verifier,
		}),
		styles:     style.New(style.Options{Links: links}),
		exclusions: obfuscation.NewExclusions(cfg.Obfuscation.ExcludedClasses),
		pool:       pool,
		metrics:    m,
		log:        log.Named("gateway"),
	}
	g.markup = markup.New(markup.Options{
		Links:   links,
		Scripts: g.scripts,
		Styles:  g.styles,
	})
	g.links = linkrouter.New(cfg.Obfuscation.LinkPrefix, mgr, files, m, log)
	g.router = g.routes(files)

	log.Info("gateway ready",
		zap.Strings("roots", resolver.Roots()),
		zap.String("tunnel", tn.Prefix()),
		zap.Int("upstreams", tn.Upstreams().Count()),
		zap.Bool("gate", cfg.Gate.Enabled),
		zap.Bool("verify_scripts", cfg.Obfuscation.VerifyScripts),
		zap.Int("workers", pool.Size()),
	)
	return g, nil
}

func (g *Gateway) routes(files http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)

	if p := g.tunnel.Prefix(); p != "" {
		r.Handle(strings.TrimSuffix(p, "/")+"/*", g.tunnel)
	}

	r.Group(func(r chi.Router) {
		// Cookieless crawlers get a throwaway session each hit.
		r.Use(g.mgr.Middleware(func(r *http.Request) bool {
			return g.gate.IsCrawler(r.UserAgent())
		}))
		r.Use(g.gate.Middleware)

		r.Get(pow.ChallengePath, g.gate.HandleChallenge)
		r.Post(pow.VerifyPath, g.gate.HandleVerify)
		r.Post(LogoutPath, g.gate.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(g.transform)
			r.Handle(g.links.Pattern()+"*", g.links)
			r.Handle("/*", files)
		})
	})
	return r
}

// Gate exposes the proof-of-work gate for runtime tuning.
func (g *Gateway) Gate() *pow.Gate { return g.gate }

// Tunnel exposes the tunnel handoff.
func (g *Gateway) Tunnel() *tunnel.Tunnel { return g.tunnel }

// Close stops the rewrite workers once in-flight rewrites finish. The
// Gateway must not serve requests afterwards.
func (g *Gateway) Close() { g.pool.Stop() }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// accessLog counts every request and logs it at debug level once served.
func (g *Gateway) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.metrics.IncrementTotal()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.log.Debug("request",
			zap.String("id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
