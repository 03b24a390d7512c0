package session

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/token"
	userentity "github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
)

type memRefresh struct {
	mu       sync.Mutex
	sessions map[string]*entity.RefreshSession
	nextID   int64
}

func newMemRefresh() *memRefresh {
	return &memRefresh{sessions: map[string]*entity.RefreshSession{}}
}

func (m *memRefresh) Save(_ context.Context, hash string, userID int64, clientID string, exp time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sessions[hash] = &entity.RefreshSession{ID: m.nextID, TokenHash: hash, UserID: userID, ClientID: clientID, ExpiresAt: exp}
	return m.nextID, nil
}

func (m *memRefresh) Get(_ context.Context, hash string) (*entity.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[hash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memRefresh) Delete(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[hash]
	delete(m.sessions, hash)
	return ok, nil
}

func (m *memRefresh) DeleteByUser(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, k)
		}
	}
	return nil
}

type memUsers struct {
	users map[int64]*userentity.MinimalAuthView
}

func (m *memUsers) GetMinimalAuthView(_ context.Context, id int64) (*userentity.MinimalAuthView, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) BumpVersion(_ context.Context, id int64) error {
	m.users[id].Version++
	return nil
}

type fixture struct {
	svc     *Service
	refresh *memRefresh
	users   *memUsers
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		refresh: newMemRefresh(),
		users: &memUsers{users: map[int64]*userentity.MinimalAuthView{
			7: {ID: 7, Email: "ada@example.com", Role: userentity.RoleUser, Confirmed: true, Status: userentity.StatusActive, Version: 1},
		}},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	tokens, err := token.NewService("session-secret", token.WithClock(clock))
	require.NoError(t, err)
	f.svc = NewService(tokens, f.refresh, f.users, Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour})
	f.svc.now = clock
	return f
}

func TestIssueAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, f.users.users[7], "web", false)
	require.NoError(t, err)
	assert.Empty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, 900, pair.ExpiresIn)

	u, err := f.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
}

func TestAuthenticate_Expired(t *testing.T) {
	f := newFixture(t)
	pair, err := f.svc.Issue(context.Background(), f.users.users[7], "", false)
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestAuthenticate_RejectsActionTokens(t *testing.T) {
	f := newFixture(t)
	confirm, err := f.svc.tokens.Issue(token.Subject(7), token.ActionConfirm, time.Hour, map[string]any{"v": 1})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), confirm)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.Issue(ctx, f.users.users[7], "web", true)
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	require.NoError(t, f.svc.Logout(ctx, 7))

	_, err = f.svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrRevoked)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Issue(ctx, f.users.users[7], "web", true)
	require.NoError(t, err)

	// refresh tokens are stored hashed
	_, stored := f.refresh.sessions[first.RefreshToken]
	assert.False(t, stored)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	rs, err := f.refresh.Get(ctx, hashToken(second.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "web", rs.ClientID)
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair, err := f.svc.Issue(ctx, f.users.users[7], "web", true)
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_DisabledUser(t *testing.T) {
	f := newFixture(t)
	pair, err := f.svc.Issue(context.Background(), f.users.users[7], "", false)
	require.NoError(t, err)
	f.users.users[7].Status = userentity.StatusDisabled
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zap.NewNop().Sugar())
	pair, err := f.svc.Issue(context.Background(), f.users.users[7], "web", true)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/user/refresh", strings.NewReader(`{"refresh_token":"`+pair.RefreshToken+`"}`))
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")

	req = httptest.NewRequest(http.MethodPost, "/user/refresh", strings.NewReader(`{"refresh_token":"nope"}`))
	rec = httptest.NewRecorder()
	h.Refresh(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/user/logout", nil)
	rec = httptest.NewRecorder()
	h.Logout(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/user/logout", nil)
	req = req.WithContext(WithUser(req.Context(), f.users.users[7]))
	rec = httptest.NewRecorder()
	h.Logout(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), f.users.users[7].Version)
}

type countingPurger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPurger) DeleteExpired(context.Context, time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1, nil
}

func (c *countingPurger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestPurgeLoop(t *testing.T) {
	p := &countingPurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		PurgeLoop(ctx, p, 5*time.Millisecond, zap.NewNop().Sugar())
		close(done)
	}()
	assert.Eventually(t, func() bool { return p.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge loop did not stop")
	}
}
