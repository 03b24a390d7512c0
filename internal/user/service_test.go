package user

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/user/repo"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu    sync.Mutex
	users map[int64]*entity.User
	now   func() time.Time
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{users: map[int64]*entity.User{}, now: now}
}

func (m *memRepo) copyOf(u *entity.User) *entity.User {
	cp := *u
	return &cp
}

func (m *memRepo) Create(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.users {
		if strings.EqualFold(o.Email, u.Email) {
			return userrepo.ErrDuplicateEmail
		}
		if u.Username != nil && o.Username != nil && *o.Username == *u.Username {
			return userrepo.ErrDuplicateUsername
		}
	}
	u.CreatedAt, u.UpdatedAt = m.now(), m.now()
	m.users[u.ID] = m.copyOf(u)
	return nil
}

func (m *memRepo) find(match func(*entity.User) bool) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return m.copyOf(u), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return strings.EqualFold(u.Email, email) })
}

func (m *memRepo) GetByUsername(_ context.Context, username string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Username != nil && *u.Username == username })
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.ID == id })
}

func (m *memRepo) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	u, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entity.MinimalAuthView{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role, Confirmed: u.Confirmed, Status: u.Status, Version: u.Version}, nil
}

func (m *memRepo) mutate(id int64, fn func(u *entity.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(u)
	return nil
}

func (m *memRepo) IncrementFailedLogin(_ context.Context, id int64) (int, error) {
	var n int
	err := m.mutate(id, func(u *entity.User) { u.LoginFailedAttempts++; n = u.LoginFailedAttempts })
	return n, err
}

func (m *memRepo) LockIfThreshold(_ context.Context, id int64, threshold, lockMinutes int) (bool, error) {
	var locked bool
	err := m.mutate(id, func(u *entity.User) {
		if u.Status == entity.StatusActive && u.LoginFailedAttempts >= threshold {
			until := m.now().Add(time.Duration(lockMinutes) * time.Minute)
			u.Status, u.LockedUntil, locked = entity.StatusLocked, &until, true
		}
	})
	return locked, err
}

func (m *memRepo) ResetLoginSuccess(_ context.Context, id int64) error {
	return m.mutate(id, func(u *entity.User) {
		now := m.now()
		u.LoginFailedAttempts, u.LastLoginAt, u.LockedUntil = 0, &now, nil
	})
}

func (m *memRepo) UnlockIfExpired(_ context.Context, id int64) (bool, error) {
	var unlocked bool
	err := m.mutate(id, func(u *entity.User) {
		if u.Status == entity.StatusLocked && u.LockedUntil != nil && u.LockedUntil.Before(m.now()) {
			u.Status, u.LockedUntil, u.LoginFailedAttempts, unlocked = entity.StatusActive, nil, 0, true
		}
	})
	return unlocked, err
}

func (m *memRepo) UpdatePassword(_ context.Context, id int64, hash, algo string, bump bool) error {
	return m.mutate(id, func(u *entity.User) {
		u.PasswordHash, u.PasswordAlgo = &hash, &algo
		if bump {
			u.Version++
		}
	})
}

func (m *memRepo) SetConfirmed(_ context.Context, id int64) error {
	return m.mutate(id, func(u *entity.User) { u.Confirmed = true })
}

func (m *memRepo) UpdateEmail(_ context.Context, id int64, email string) error {
	return m.mutate(id, func(u *entity.User) { u.Email = email })
}

func (m *memRepo) UpdateUsername(_ context.Context, id int64, username string) error {
	return m.mutate(id, func(u *entity.User) { u.Username = &username })
}

func (m *memRepo) UpdateDetails(_ context.Context, in *entity.User) error {
	return m.mutate(in.ID, func(u *entity.User) {
		u.FirstName, u.LastName, u.DateOfBirth = in.FirstName, in.LastName, in.DateOfBirth
	})
}

func (m *memRepo) Deactivate(_ context.Context, id int64) error {
	return m.mutate(id, func(u *entity.User) { u.Status = entity.StatusDisabled; u.Version++ })
}

type sentMail struct {
	To, Subject, Template string
	Data                  notify.TemplateData
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *memNotifier) Dispatch(_ context.Context, to, subject, tmpl string, data notify.TemplateData) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{To: to, Subject: subject, Template: tmpl, Data: data})
	return nil
}

func (n *memNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

// linkToken returns the path segment after prefix in an emailed link.
func linkToken(t *testing.T, link, prefix string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u.Path, prefix), u.Path)
	return strings.TrimPrefix(u.Path, prefix)
}

type seqIDs struct{ n int64 }

func (s *seqIDs) Next() int64 { s.n++; return s.n }

type fixture struct {
	svc    *UserService
	repo   *memRepo
	mail   *memNotifier
	tokens *token.Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC), mail: &memNotifier{}}
	clock := func() time.Time { return f.now }
	f.repo = newMemRepo(clock)
	var err error
	f.tokens, err = token.NewService("user-secret", token.WithClock(clock))
	require.NoError(t, err)
	f.svc = NewUserService(f.repo, BcryptHasher{Cost: 4}, f.tokens, f.mail, &seqIDs{n: 100},
		Config{BaseURL: "https://todo.test/", MaxFailed: 3, LockMinutes: 15}, zap.NewNop().Sugar())
	f.svc.now = clock
	return f
}

func (f *fixture) register(t *testing.T, email, username string) *entity.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username, Email: email, Password: "password1",
		FirstName: "Ada", LastName: "Lovelace", DateOfBirth: "1990-12-10",
	})
	require.NoError(t, err)
	return u
}

func TestRegister_SendsConfirmationThatVerifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, " Ada@Example.com ", "ada")

	assert.Equal(t, "ada@example.com", u.Email)
	assert.False(t, u.Confirmed)
	assert.Equal(t, entity.RoleUser, u.Role)

	mail := f.mail.last(t)
	assert.Equal(t, "ada@example.com", mail.To)
	assert.Equal(t, "Confirm Your Account", mail.Subject)
	assert.Equal(t, notify.TemplateConfirm, mail.Template)
	assert.Equal(t, "Ada Lovelace", mail.Data.Name)
	assert.True(t, strings.HasPrefix(mail.Data.Link, "https://todo.test/user/confirm-account/"))

	tok := linkToken(t, mail.Data.Link, "/user/confirm-account/")
	require.NoError(t, f.svc.ConfirmAccount(ctx, u.ID, tok))

	got, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)

	assert.ErrorIs(t, f.svc.ConfirmAccount(ctx, u.ID, tok), ErrAlreadyConfirmed)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ada@example.com", "ada")

	base := RegisterInput{Username: "bob", Email: "bob@example.com", Password: "password1", FirstName: "Bob", LastName: "B", DateOfBirth: "1990-01-01"}

	in := base
	in.Email = "ADA@example.com"
	_, err := f.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrEmailTaken)

	in = base
	in.Username = "ada"
	_, err = f.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	in = base
	in.DateOfBirth = "10/01/1990"
	_, err = f.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidDateOfBirth)

	in = base
	in.DateOfBirth = "2008-05-11" // 18th birthday is tomorrow
	_, err = f.svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrUnderage)

	in.DateOfBirth = "2008-05-10"
	_, err = f.svc.Register(ctx, in)
	assert.NoError(t, err)
}

func TestConfirmAccount_RejectsOtherUsersToken(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "a@example.com", "a")
	tokA := linkToken(t, f.mail.last(t).Data.Link, "/user/confirm-account/")
	b := f.register(t, "b@example.com", "b")

	err := f.svc.ConfirmAccount(context.Background(), b.ID, tokA)
	assert.ErrorIs(t, err, token.ErrActionMismatch)

	err = f.svc.ConfirmAccount(context.Background(), a.ID, tokA)
	assert.NoError(t, err)
}

func TestConfirmAccount_Expired(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "a@example.com", "a")
	tok := linkToken(t, f.mail.last(t).Data.Link, "/user/confirm-account/")

	f.now = f.now.Add(7*24*time.Hour + time.Second)
	err := f.svc.ConfirmAccount(context.Background(), u.ID, tok)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestAuthenticatePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")

	view, err := f.svc.AuthenticatePassword(ctx, "ADA@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, view.ID)

	view, err = f.svc.AuthenticatePassword(ctx, "ada", "password1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, view.ID)

	_, err = f.svc.AuthenticatePassword(ctx, "nobody@example.com", "password1")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.svc.AuthenticatePassword(ctx, "", "password1")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestAuthenticatePassword_LockoutAndUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "ada@example.com", "ada")

	for range 3 {
		_, err := f.svc.AuthenticatePassword(ctx, "ada", "wrong")
		assert.ErrorIs(t, err, ErrBadCredentials)
	}
	_, err := f.svc.AuthenticatePassword(ctx, "ada", "password1")
	assert.ErrorIs(t, err, ErrLocked)

	f.now = f.now.Add(16 * time.Minute)
	_, err = f.svc.AuthenticatePassword(ctx, "ada", "password1")
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "ada@example.com"))
	mail := f.mail.last(t)
	assert.Equal(t, "Reset Your Password", mail.Subject)
	tok := linkToken(t, mail.Data.Link, "/user/reset-password/")

	before := len(f.mail.sent)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Len(t, f.mail.sent, before)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "nobody@example.com", tok, "newpassword"), ErrUserNotFound)
	require.NoError(t, f.svc.ResetPassword(ctx, "ada@example.com", tok, "newpassword"))

	got, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	_, err = f.svc.AuthenticatePassword(ctx, "ada", "newpassword")
	assert.NoError(t, err)
}

func TestResetPassword_TokenBoundToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "a")
	f.register(t, "b@example.com", "b")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@example.com"))
	tokA := linkToken(t, f.mail.last(t).Data.Link, "/user/reset-password/")

	err := f.svc.ResetPassword(ctx, "b@example.com", tokA, "hijacked1")
	assert.ErrorIs(t, err, token.ErrActionMismatch)
	_, err = f.svc.AuthenticatePassword(ctx, "b", "password1")
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")

	assert.ErrorIs(t, f.svc.ChangePassword(ctx, u.ID, "wrong", "another1"), ErrBadCredentials)
	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "password1", "another1"))
	_, err := f.svc.AuthenticatePassword(ctx, "ada", "another1")
	assert.NoError(t, err)
}

func TestChangeEmail_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")

	assert.ErrorIs(t, f.svc.RequestEmailChange(ctx, u.ID, "wrong", "new@example.com"), ErrBadCredentials)
	require.NoError(t, f.svc.RequestEmailChange(ctx, u.ID, "password1", "New@Example.com"))
	mail := f.mail.last(t)
	assert.Equal(t, "new@example.com", mail.To)
	assert.Equal(t, notify.TemplateChangeEmail, mail.Template)
	tok := linkToken(t, mail.Data.Link, "/user/manage/change-email/")

	email, err := f.svc.ChangeEmail(ctx, u.ID, tok)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", email)

	email, err = f.svc.ChangeEmail(ctx, u.ID, tok)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", email)

	got, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
}

func TestChangeEmail_TakenInBetween(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")
	require.NoError(t, f.svc.RequestEmailChange(ctx, u.ID, "password1", "grace@example.com"))
	tok := linkToken(t, f.mail.last(t).Data.Link, "/user/manage/change-email/")

	f.register(t, "grace@example.com", "grace")
	_, err := f.svc.ChangeEmail(ctx, u.ID, tok)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestChangeEmail_RequiresNewEmailClaim(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "ada@example.com", "ada")
	tok, err := f.tokens.Issue(token.Subject(u.ID), token.ActionChangeEmail, time.Hour, nil)
	require.NoError(t, err)
	_, err = f.svc.ChangeEmail(context.Background(), u.ID, tok)
	assert.ErrorIs(t, err, ErrMissingNewEmail)
}

func TestChangeUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")
	f.register(t, "grace@example.com", "grace")

	assert.ErrorIs(t, f.svc.ChangeUsername(ctx, u.ID, "wrong", "countess"), ErrBadCredentials)
	assert.ErrorIs(t, f.svc.ChangeUsername(ctx, u.ID, "password1", "grace"), ErrUsernameTaken)
	require.NoError(t, f.svc.ChangeUsername(ctx, u.ID, "password1", "countess"))
	require.NoError(t, f.svc.ChangeUsername(ctx, u.ID, "password1", "countess"))
}

func TestUpdateDetails_AllowList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")

	_, err := f.svc.UpdateDetails(ctx, u.ID, map[string]string{"first_name": "Augusta", "role": "admin"})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = f.svc.UpdateDetails(ctx, u.ID, map[string]string{"date_of_birth": "yesterday"})
	assert.ErrorIs(t, err, ErrInvalidDateOfBirth)

	_, err = f.svc.UpdateDetails(ctx, u.ID, nil)
	assert.ErrorIs(t, err, ErrNoFields)

	got, err := f.svc.UpdateDetails(ctx, u.ID, map[string]string{"first_name": " Augusta ", "date_of_birth": "1985-12-10"})
	require.NoError(t, err)
	assert.Equal(t, "Augusta", got.FirstName)

	stored, err := f.repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleUser, stored.Role)
	assert.Equal(t, "1985-12-10", stored.DateOfBirth)
}

func TestInviteAndJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Invite(ctx, InviteInput{Email: "new@example.com", FirstName: "New", LastName: "Person"})
	require.NoError(t, err)
	assert.False(t, u.HasPassword())

	mail := f.mail.last(t)
	assert.Equal(t, "You Are Invited To Join", mail.Subject)
	tok := linkToken(t, mail.Data.Link, "/user/join-from-invite/101/")
	assert.Equal(t, int64(101), u.ID)

	_, err = f.svc.Invite(ctx, InviteInput{Email: "NEW@example.com", FirstName: "x", LastName: "y"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	require.NoError(t, f.svc.JoinFromInvite(ctx, u.ID, tok, "joinpass1"))
	assert.ErrorIs(t, f.svc.JoinFromInvite(ctx, u.ID, tok, "joinpass1"), ErrAlreadyJoined)

	view, err := f.svc.AuthenticatePassword(ctx, "new@example.com", "joinpass1")
	require.NoError(t, err)
	assert.True(t, view.Confirmed)
}

func TestJoinFromInvite_InvalidLinkResends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Invite(ctx, InviteInput{Email: "new@example.com", FirstName: "New", LastName: "Person"})
	require.NoError(t, err)
	sent := len(f.mail.sent)

	err = f.svc.JoinFromInvite(ctx, u.ID, "garbage", "joinpass1")
	assert.ErrorIs(t, err, ErrInviteResent)
	assert.ErrorIs(t, err, token.ErrMalformedToken)
	assert.Len(t, f.mail.sent, sent+1)

	assert.ErrorIs(t, f.svc.JoinFromInvite(ctx, 999, "x", "joinpass1"), ErrUserNotFound)
}

func TestChangeUsername_FirstTimeWithoutPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Invite(ctx, InviteInput{Email: "new@example.com", FirstName: "New", LastName: "Person"})
	require.NoError(t, err)
	require.NoError(t, f.svc.ChangeUsername(ctx, u.ID, "", "newbie"))
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "ada@example.com", "ada")

	assert.ErrorIs(t, f.svc.Deactivate(ctx, u.ID, "wrong"), ErrBadCredentials)
	require.NoError(t, f.svc.Deactivate(ctx, u.ID, "password1"))
	_, err := f.svc.AuthenticatePassword(ctx, "ada", "password1")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.EnsureAdmin(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = f.svc.EnsureAdmin(ctx, "admin@example.com", "adminpass")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.EnsureAdmin(ctx, "admin@example.com", "adminpass")
	require.NoError(t, err)
	assert.False(t, created)

	view, err := f.svc.AuthenticatePassword(ctx, "admin@example.com", "adminpass")
	require.NoError(t, err)
	assert.True(t, view.IsAdmin())
	assert.True(t, view.Confirmed)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "ada@example.com", "ada")
	p, err := f.svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.FullName)
	assert.Equal(t, 35, p.Age)

	_, err = f.svc.Profile(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: 4}
	hash, algo, err := h.Hash("secret")
	require.NoError(t, err)
	assert.Equal(t, "bcrypt:4", algo)
	assert.True(t, h.Verify(hash, "secret"))
	assert.False(t, h.Verify(hash, "nope"))
	assert.False(t, h.NeedsRehash(hash))
	assert.True(t, BcryptHasher{Cost: 5}.NeedsRehash(hash))
}
