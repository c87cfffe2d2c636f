package pow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/logger"
	"github.com/firasghr/GoShroud/metrics"
	"github.com/firasghr/GoShroud/session"
)

// Paths served by the gate itself.
const (
	ChallengePath = "/challenge"
	VerifyPath    = "/verify"
)

// maxVerifyBody caps the /verify request body.
const maxVerifyBody = 4 << 10

//go:embed challenge.html
var challengeHTML string

var challengeTmpl = template.Must(template.New("challenge").Parse(challengeHTML))

type challengeView struct {
	Nonce      string
	Difficulty int
	VerifyPath string
}

// Gate is the proof-of-work access gate. It depends on session.Manager's
// middleware having bound a record to the request.
type Gate struct {
	mgr        *session.Manager
	cfg        config.GateConfig
	crawlers   []*regexp.Regexp
	// difficulty applies to challenges issued from now on; issued ones keep
	// the value stored in the session.
	difficulty atomic.Int64
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// NewGate compiles the crawler allow-list and returns a Gate.
func NewGate(mgr *session.Manager, cfg config.GateConfig, m *metrics.Metrics, log *logger.Logger) (*Gate, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	g := &Gate{mgr: mgr, cfg: cfg, metrics: m, log: log.Named("pow")}
	g.difficulty.Store(int64(cfg.Difficulty))
	for _, p := range cfg.CrawlerPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("pow: crawler pattern %q: %w", p, err)
		}
		g.crawlers = append(g.crawlers, re)
	}
	return g, nil
}

// IsCrawler reports whether userAgent matches the allow-list.
func (g *Gate) IsCrawler(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	for _, re := range g.crawlers {
		if re.MatchString(userAgent) {
			return true
		}
	}
	return false
}

// Difficulty returns the difficulty of newly issued challenges.
func (g *Gate) Difficulty() int { return int(g.difficulty.Load()) }

// SetDifficulty changes the difficulty of newly issued challenges.
func (g *Gate) SetDifficulty(n int) { g.difficulty.Store(int64(n)) }

func isGatePath(p string) bool {
	return p == ChallengePath || p == VerifyPath || strings.HasPrefix(p, ChallengePath+"/")
}

// Middleware lets through gate endpoints, allow-listed crawlers and passed
// sessions, and redirects everything else to the challenge page.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled || isGatePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if g.IsCrawler(r.UserAgent()) {
			g.metrics.CrawlerBypasses.Add(1)
			next.ServeHTTP(w, r)
			return
		}
		if rec, ok := session.FromContext(r.Context()); ok && rec.Challenge.Solved {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, ChallengePath, http.StatusFound)
	})
}

// HandleChallenge issues a fresh challenge, or sends passed sessions home.
func (g *Gate) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	rec, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "session required", http.StatusInternalServerError)
		return
	}
	if rec.Challenge.Solved || rec.Transient {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	nonce, err := NewNonce()
	if err != nil {
		g.log.Error("nonce generation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	difficulty := g.Difficulty()
	_, err = g.mgr.Update(r.Context(), rec.ID, func(s *session.Record) error {
		s.Challenge = session.Challenge{Nonce: nonce, Difficulty: difficulty, Solved: s.Challenge.Solved}
		return nil
	})
	if err != nil {
		g.log.Error("challenge not stored", zap.String("session", rec.ID), zap.Error(err))
		http.Error(w, "session backend unavailable", http.StatusInternalServerError)
		return
	}
	g.metrics.ChallengesIssued.Add(1)

	var buf bytes.Buffer
	if err := challengeTmpl.Execute(&buf, challengeView{Nonce: nonce, Difficulty: difficulty, VerifyPath: VerifyPath}); err != nil {
		g.log.Error("challenge page render failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

type verifyRequest struct {
	Solution json.RawMessage `json:"solution"`
}

// readSolution accepts {"solution": "..."} (string or number) or a form
// field named solution.
func readSolution(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		var req verifyRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", err
		}
		var s string
		if err := json.Unmarshal(req.Solution, &s); err == nil {
			return s, nil
		}
		var n json.Number
		if err := json.Unmarshal(req.Solution, &n); err == nil {
			return n.String(), nil
		}
		return "", errors.New("solution must be a string or number")
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("solution"), nil
}

// HandleVerify checks a submitted solution against the session's nonce.
func (g *Gate) HandleVerify(w http.ResponseWriter, r *http.Request) {
	rec, ok := session.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session required"})
		return
	}
	if rec.Transient {
		g.metrics.VerifyFailures.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ErrNoChallenge.Error()})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxVerifyBody)
	solution, err := readSolution(r)
	if err != nil {
		g.metrics.VerifyFailures.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request"})
		return
	}

	var passed bool
	_, err = g.mgr.Update(r.Context(), rec.ID, func(s *session.Record) error {
		ch := &s.Challenge
		if !ch.Active() {
			return ErrNoChallenge
		}
		if !Verify(ch.Nonce, solution, ch.Difficulty) {
			// The failed attempt is saved; the nonce is dropped once the
			// budget is spent so the client has to reload.
			ch.Attempts++
			if g.cfg.MaxAttempts > 0 && ch.Attempts >= g.cfg.MaxAttempts {
				*ch = session.Challenge{}
			}
			return nil
		}
		*ch = session.Challenge{Solved: true}
		passed = true
		return nil
	})
	if err == nil && !passed {
		err = ErrInvalidSolution
	}

	switch {
	case err == nil:
		g.metrics.ChallengesPassed.Add(1)
		g.log.Debug("challenge passed", zap.String("session", rec.ID))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, ErrNoChallenge), errors.Is(err, ErrInvalidSolution):
		g.metrics.VerifyFailures.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		g.log.Error("verify failed", zap.String("session", rec.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session backend unavailable"})
	}
}

// HandleLogout destroys the caller's session.
func (g *Gate) HandleLogout(w http.ResponseWriter, r *http.Request) {
	rec, ok := session.FromContext(r.Context())
	if !ok || rec.Transient {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if err := g.mgr.Destroy(w, r, rec.ID); err != nil {
		g.log.Error("logout failed", zap.String("session", rec.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session backend unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
