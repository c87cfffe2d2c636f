package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/logger"
)

type ctxKey struct{}

// WithRecord returns a copy of ctx carrying r.
func WithRecord(ctx context.Context, r *Record) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// FromContext returns the record bound by Manager.Middleware.
func FromContext(ctx context.Context) (*Record, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Record)
	return r, ok && r != nil
}

// Manager binds session records to requests and owns the write path.
//
// Concurrency model:
//   - Reads are lock-free: every request gets its own decoded snapshot.
//   - Update is the only write path; it holds the per-id lock across
//     load → fn → save so concurrent requests of one session never lose each
//     other's changes.
//   - Records are created lazily by Middleware for requests lacking a valid
//     cookie.
type Manager struct {
	store Store
	locks *KeyedLock
	cfg   config.SessionConfig
	log   *logger.Logger
	now   func() time.Time
}

// NewManager creates a Manager over store.
func NewManager(store Store, cfg config.SessionConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		store: store,
		locks: NewKeyedLock(),
		cfg:   cfg,
		log:   log.Named("session"),
		now:   time.Now,
	}
}

// Store returns the backend.
func (m *Manager) Store() Store { return m.store }

// Load returns a fresh snapshot of the record for id.
func (m *Manager) Load(ctx context.Context, id string) (*Record, error) {
	return m.store.Load(ctx, id)
}

// Create makes and persists a new record.
func (m *Manager) Create(ctx context.Context) (*Record, error) {
	r, err := NewRecord(m.now(), m.cfg.TTL)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update applies fn to the current record for id under the session lock and
// saves the result. If fn returns an error nothing is saved and the error is
// returned unchanged. The saved record is returned.
func (m *Manager) Update(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	var out *Record
	err := m.locks.WithLock(ctx, id, m.cfg.LockTimeout, func() error {
		r, err := m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := m.store.Save(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy deletes the record and expires the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request, id string) error {
	if err := m.locks.WithLock(r.Context(), id, m.cfg.LockTimeout, func() error {
		return m.store.Delete(r.Context(), id)
	}); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Sweep removes expired records from the backend.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, m.now())
}

// Count returns the number of stored records.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Middleware loads the caller's record, creating one when the cookie is
// missing, malformed or points at an expired record, and binds it to the
// request context. Backend failures answer 500.
//
// A request lacking a valid cookie for which transient returns true gets a
// Transient record instead: nothing is stored and no cookie is set. transient
// may be nil.
func (m *Manager) Middleware(transient func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, err := m.resolve(w, r, transient)
			if err != nil {
				m.log.Error("session backend unavailable", zap.Error(err))
				http.Error(w, "session backend unavailable", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), rec)))
		})
	}
}

func (m *Manager) resolve(w http.ResponseWriter, r *http.Request, transient func(*http.Request) bool) (*Record, error) {
	ctx := r.Context()
	if c, err := r.Cookie(m.cfg.CookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			rec, err := m.store.Load(ctx, c.Value)
			switch {
			case err == nil:
				return m.touch(ctx, rec), nil
			case !errors.Is(err, ErrNotFound):
				return nil, fmt.Errorf("session: load %s: %w", c.Value, err)
			}
		}
	}

	if transient != nil && transient(r) {
		rec, err := NewRecord(m.now(), m.cfg.TTL)
		if err != nil {
			return nil, err
		}
		rec.Transient = true
		return rec, nil
	}

	rec, err := m.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	m.log.Debug("session created", zap.String("id", rec.ID))
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    rec.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return rec, nil
}

// touch slides the expiry once less than half the TTL remains. Failure to
// extend is logged, not fatal: the snapshot is still valid for this request.
func (m *Manager) touch(ctx context.Context, rec *Record) *Record {
	now := m.now()
	if rec.ExpiresAt.Sub(now) > m.cfg.TTL/2 {
		return rec
	}
	updated, err := m.Update(ctx, rec.ID, func(r *Record) error {
		r.ExpiresAt = now.Add(m.cfg.TTL)
		return nil
	})
	if err != nil {
		m.log.Warn("session expiry not extended", zap.String("id", rec.ID), zap.Error(err))
		return rec
	}
	return updated
}
