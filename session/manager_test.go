package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/session"
)

func newManager(t *testing.T) (*session.Manager, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	return session.NewManager(store, config.DefaultConfig().Session, nil), store
}

// echoID writes the bound record id.
var echoID = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	rec, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "no session", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(rec.ID))
})

func TestMiddleware_CreatesSessionLazily(t *testing.T) {
	m, store := newManager(t)
	h := m.Middleware(nil)(echoID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "shroud_sid", c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, c.Value, rec.Body.String())

	n, _ := store.Count(context.Background())
	assert.Equal(t, 1, n)

	// The cookie is honoured on the next request.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, c.Value, rec2.Body.String())
	assert.Empty(t, rec2.Result().Cookies())
}

func TestMiddleware_InvalidCookieGetsNewSession(t *testing.T) {
	m, _ := newManager(t)
	h := m.Middleware(nil)(echoID)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "shroud_sid", Value: "../../etc/passwd"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.NotEqual(t, "../../etc/passwd", rec.Body.String())
}

func TestMiddleware_TransientRequestsStoreNothing(t *testing.T) {
	m, store := newManager(t)
	isBot := func(r *http.Request) bool { return r.UserAgent() == "bot" }
	var bound *session.Record
	h := m.Middleware(isBot)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bound, _ = session.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "bot")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, bound)
	assert.True(t, bound.Transient)
	assert.NotEmpty(t, bound.SessionKey)
	assert.Empty(t, rec.Result().Cookies())
	n, _ := store.Count(context.Background())
	assert.Zero(t, n)

	// A bot that already holds a session keeps using it.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.False(t, bound.Transient)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "bot")
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, bound.Transient)
	assert.Equal(t, cookies[0].Value, bound.ID)
}

type failingStore struct{ session.MemoryStore }

func (*failingStore) Load(context.Context, string) (*session.Record, error) {
	return nil, session.ErrBackend
}

func (*failingStore) Save(context.Context, *session.Record) error { return session.ErrBackend }

func TestMiddleware_BackendFailureIs500(t *testing.T) {
	m := session.NewManager(&failingStore{}, config.DefaultConfig().Session, nil)
	rec := httptest.NewRecorder()
	m.Middleware(nil)(echoID).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpdate_SerialisesConcurrentWriters(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	r, err := m.Create(ctx)
	require.NoError(t, err)

	const writers = 40
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, r.ID, func(rec *session.Record) error {
				rec.Challenge.Attempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := m.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, final.Challenge.Attempts)
}

func TestUpdate_FnErrorSavesNothing(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	r, err := m.Create(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = m.Update(ctx, r.ID, func(rec *session.Record) error {
		rec.Challenge.Solved = true
		return boom
	})
	assert.ErrorIs(t, err, boom)

	final, err := m.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, final.Challenge.Solved)
}

func TestUpdate_MissingSession(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Update(context.Background(), "00000000-0000-0000-0000-000000000000", func(*session.Record) error { return nil })
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDestroy(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	r, err := m.Create(ctx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Destroy(rec, httptest.NewRequest(http.MethodPost, "/logout", nil), r.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].MaxAge < 0)

	_, err = m.Load(ctx, r.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSweep(t *testing.T) {
	cfg := config.DefaultConfig().Session
	cfg.TTL = time.Millisecond
	m := session.NewManager(session.NewMemoryStore(), cfg, nil)
	_, err := m.Create(context.Background())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	n, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
