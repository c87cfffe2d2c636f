// Package config provides configuration management for the GoShroud gateway.
// Configuration is YAML; every field has a safe default so a missing file or
// a partial file still yields a runnable gateway.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transform failure policies for ObfuscationConfig.OnError.
const (
	OnErrorFail        = "fail"
	OnErrorPassthrough = "passthrough"
)

// Config holds all tunable parameters for the gateway.
// It is loaded once at startup and then shared across goroutines as a
// read-only value.
type Config struct {
	// Listen is the address of the public gateway listener.
	Listen string `yaml:"listen"`

	// AdminListen is the address of the admin dashboard. Empty disables it.
	AdminListen string `yaml:"admin_listen"`

	Log         LogConfig         `yaml:"log"`
	Session     SessionConfig     `yaml:"session"`
	Gate        GateConfig        `yaml:"gate"`
	Obfuscation ObfuscationConfig `yaml:"obfuscation"`
	Assets      AssetsConfig      `yaml:"assets"`
	Tunnel      TunnelConfig      `yaml:"tunnel"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// File, when set, adds a rotating JSON log file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// SessionConfig controls the session cookie and its persistence backend.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	// Secure marks the cookie Secure; enable behind TLS.
	Secure bool `yaml:"secure"`
	// TTL is the idle lifetime of a session record (e.g. "24h").
	TTL time.Duration `yaml:"ttl"`
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
	// SweepInterval is how often expired records are purged.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// LockTimeout bounds how long a request waits for its session lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// GateConfig controls the proof-of-work gate.
type GateConfig struct {
	Enabled bool `yaml:"enabled"`
	// Difficulty is the number of leading hex zeros a solution hash needs.
	Difficulty int `yaml:"difficulty"`
	// MaxAttempts is the number of wrong solutions tolerated before the
	// challenge is discarded. Zero means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
	// CrawlerPatterns are case-insensitive regular expressions matched
	// against the User-Agent header; a match bypasses the gate.
	CrawlerPatterns []string `yaml:"crawler_patterns"`
}

// ObfuscationConfig controls the markup, script and style transformers.
type ObfuscationConfig struct {
	// TokenLength is the number of hex digest characters in a token.
	TokenLength int `yaml:"token_length"`
	// MinLiteralLength is the shortest script string literal that is rewritten.
	MinLiteralLength int `yaml:"min_literal_length"`
	// ExcludedClasses are class names never rewritten. A trailing "*" makes
	// the entry a prefix pattern.
	ExcludedClasses []string `yaml:"excluded_classes"`
	// ReservedIdentifiers are added to the built-in list of globals that
	// scripts must keep.
	ReservedIdentifiers []string `yaml:"reserved_identifiers"`
	// PreservedLiterals are script string values never rewritten.
	PreservedLiterals []string `yaml:"preserved_literals"`
	// RenameGlobals also renames top-level declarations that are not
	// reserved. Inline handlers and other scripts that reach those names
	// break when it is on. Undeclared identifiers are never renamed.
	RenameGlobals bool `yaml:"rename_globals"`
	// VerifyScripts evaluates every rewritten literal with otto.
	VerifyScripts bool `yaml:"verify_scripts"`
	// OnError is OnErrorFail or OnErrorPassthrough.
	OnError string `yaml:"on_error"`
	// LinkPrefix is the first path segment of rewritten asset links.
	LinkPrefix string `yaml:"link_prefix"`
	// Workers bounds concurrent rewrites; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// AssetsConfig lists the ordered static roots.
type AssetsConfig struct {
	Roots []string `yaml:"roots"`
}

// TunnelConfig controls the reverse-proxy handoff.
type TunnelConfig struct {
	// Prefix is the path prefix handed off whole to the tunnel.
	Prefix string `yaml:"prefix"`
	// Upstreams are base URLs rotated round-robin.
	Upstreams []string `yaml:"upstreams"`
	// UpstreamFile is a newline-delimited list of additional upstreams.
	UpstreamFile string `yaml:"upstream_file"`
	// ResponseHeaderTimeout bounds the wait for an upstream's response
	// headers; 0 waits indefinitely.
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// DefaultCrawlerPatterns is the allow-list of well-known crawler user agents.
var DefaultCrawlerPatterns = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider",
	"yandexbot", "facebookexternalhit", "twitterbot", "linkedinbot",
	"pinterest", "applebot", "whatsapp", "discordbot", "telegrambot",
	"embedly", "quora link preview", "redditbot", "slackbot", "vkshare",
	"screaming frog", "semrushbot", "ahrefsbot",
}

// DefaultConfig returns a *Config pre-filled with production-sensible defaults.
// Each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		Listen:      ":3000",
		AdminListen: "127.0.0.1:8080",
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Session: SessionConfig{
			CookieName:    "shroud_sid",
			TTL:           24 * time.Hour,
			Backend:       "memory",
			SQLitePath:    "data/sessions.db",
			SweepInterval: 5 * time.Minute,
			LockTimeout:   10 * time.Second,
		},
		Gate: GateConfig{
			Enabled:         true,
			Difficulty:      4,
			MaxAttempts:     20,
			CrawlerPatterns: append([]string(nil), DefaultCrawlerPatterns...),
		},
		Obfuscation: ObfuscationConfig{
			TokenLength:      10,
			MinLiteralLength: 3,
			ExcludedClasses:  []string{"fa", "fa-*", "fas", "far", "fab", "material-icons"},
			PreservedLiterals: []string{
				"undefined", "object", "boolean", "number", "bigint", "string", "symbol", "function",
				"click", "load", "DOMContentLoaded", "submit", "change", "input",
				"keydown", "keyup", "mousedown", "mouseup", "mousemove", "resize", "scroll",
				"use strict",
			},
			OnError:    OnErrorFail,
			LinkPrefix: "o",
		},
		Assets: AssetsConfig{
			Roots: []string{"public", "dist"},
		},
		Tunnel: TunnelConfig{
			Prefix:                "/b/",
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at filename over DefaultConfig and validates
// the result. Unknown keys are rejected so typos surface at startup.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is an operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %q: %w", filename, err)
	}
	return cfg, nil
}

// Validate reports the first nonsensical value in cfg.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen must not be empty")
	case c.Session.CookieName == "":
		return errors.New("session.cookie_name must not be empty")
	case c.Session.TTL <= 0:
		return errors.New("session.ttl must be positive")
	case c.Session.Backend != "memory" && c.Session.Backend != "sqlite":
		return fmt.Errorf("session.backend %q: want memory or sqlite", c.Session.Backend)
	case c.Session.Backend == "sqlite" && c.Session.SQLitePath == "":
		return errors.New("session.sqlite_path is required for the sqlite backend")
	case c.Gate.Difficulty < 1 || c.Gate.Difficulty > 64:
		return fmt.Errorf("gate.difficulty %d: want 1..64", c.Gate.Difficulty)
	case c.Gate.MaxAttempts < 0:
		return errors.New("gate.max_attempts must not be negative")
	case c.Obfuscation.TokenLength < 6 || c.Obfuscation.TokenLength > 64:
		return fmt.Errorf("obfuscation.token_length %d: want 6..64", c.Obfuscation.TokenLength)
	case c.Obfuscation.MinLiteralLength < 1:
		return errors.New("obfuscation.min_literal_length must be at least 1")
	case c.Obfuscation.Workers < 0:
		return errors.New("obfuscation.workers must not be negative")
	case c.Obfuscation.OnError != OnErrorFail && c.Obfuscation.OnError != OnErrorPassthrough:
		return fmt.Errorf("obfuscation.on_error %q: want fail or passthrough", c.Obfuscation.OnError)
	case c.Obfuscation.LinkPrefix == "":
		return errors.New("obfuscation.link_prefix must not be empty")
	case c.Tunnel.Prefix != "" && (!strings.HasPrefix(c.Tunnel.Prefix, "/") || !strings.HasSuffix(c.Tunnel.Prefix, "/")):
		return fmt.Errorf("tunnel.prefix %q: want /path/", c.Tunnel.Prefix)
	case strings.Contains(strings.Trim(c.Obfuscation.LinkPrefix, "/"), "/"):
		return fmt.Errorf("obfuscation.link_prefix %q: want a single path segment", c.Obfuscation.LinkPrefix)
	case len(c.Assets.Roots) == 0:
		return errors.New("assets.roots must list at least one directory")
	}
	return nil
}
