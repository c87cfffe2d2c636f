// GoShroud is an anti-scraping gateway: it gates visitors behind a
// proof-of-work challenge and serves every page, stylesheet and script
// rewritten under a per-session obfuscation context.
//
// Startup sequence (serve):
//  1. Load configuration (YAML file or defaults).
//  2. Start the dashboard and the logger that mirrors into it.
//  3. Open the session backend (memory or SQLite).
//  4. Build the gateway and bind the dashboard's live knobs to it.
//  5. Start the janitor, which sweeps expired sessions.
//  6. Monitor metrics in a background goroutine.
//  7. Block until SIGINT or SIGTERM, then shut both listeners down cleanly.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/dashboard"
	"github.com/firasghr/GoShroud/gateway"
	"github.com/firasghr/GoShroud/janitor"
	"github.com/firasghr/GoShroud/logger"
	"github.com/firasghr/GoShroud/metrics"
	"github.com/firasghr/GoShroud/session"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "goshroud",
		Short:         "Anti-scraping gateway with proof-of-work and per-session obfuscation.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (defaults are used when omitted)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and the admin dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(cfgFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	})
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func openStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return session.OpenSQLite(cfg.SQLitePath)
	default:
		return session.NewMemoryStore(), nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── Metrics and dashboard ──────────────────────────────────────────────
	m := metrics.NewMetrics()
	dash := dashboard.New(m, cfg)

	// ── Logger ─────────────────────────────────────────────────────────────
	log, err := logger.New(cfg.Log, dash.AddLog)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("GoShroud starting up", zap.String("version", version))

	// ── Session backend ────────────────────────────────────────────────────
	store, err := openStore(cfg.Session)
	if err != nil {
		return err
	}
	defer store.Close()
	mgr := session.NewManager(store, cfg.Session, log)
	log.Info("session backend ready", zap.String("backend", cfg.Session.Backend))

	// ── Gateway ────────────────────────────────────────────────────────────
	gw, err := gateway.New(cfg, mgr, m, log)
	if err != nil {
		return err
	}
	defer gw.Close()
	dash.Bind(log, gw.Gate())

	// ── Janitor ────────────────────────────────────────────────────────────
	jan := janitor.New(mgr, cfg.Session.SweepInterval, log)
	jan.Start()
	defer jan.Stop()

	// ── Metrics monitor ────────────────────────────────────────────────────
	// Log a summary line every 10 seconds and keep the dashboard's session
	// count fresh.
	go monitor(ctx, m, mgr, dash, log)

	// ── Listeners ──────────────────────────────────────────────────────────
	errCh := make(chan error, 2)
	go func() {
		errCh <- dash.ListenAndServe(ctx, cfg.AdminListen)
	}()
	log.Info("dashboard listening", zap.String("addr", cfg.AdminListen))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway: listen %s: %w", cfg.Listen, err)
		}
	}()
	log.Info("gateway listening", zap.String("addr", cfg.Listen))

	// ── Graceful shutdown ──────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("signal received; shutting down")
	case err = <-errCh:
		if err != nil {
			log.Error("listener failed; shutting down", zap.Error(err))
		}
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("gateway shutdown incomplete", zap.Error(serr))
	}

	snap := m.Snapshot()
	log.Infof("final metrics – total: %d | transforms: %d | failures: %d | passed: %d | rps: %.1f",
		snap.Total, snap.Transforms, snap.TransformFailures, snap.ChallengesPassed, snap.RPS)
	log.Info("GoShroud shut down cleanly")
	return err
}

func monitor(ctx context.Context, m *metrics.Metrics, mgr *session.Manager, dash *dashboard.Server, log *logger.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		count, err := mgr.Count(ctx)
		if err != nil {
			log.Warn("session count failed", zap.Error(err))
			continue
		}
		dash.SetActiveSessions(int64(count))
		snap := m.Snapshot()
		log.Infof("metrics – total: %d | transforms: %d | failures: %d | links: %d/%d | rps: %.1f | sessions: %d",
			snap.Total, snap.Transforms, snap.TransformFailures, snap.LinkHits, snap.LinkMisses, snap.RPS, count)
	}
}
