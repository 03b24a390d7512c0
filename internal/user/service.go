package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/user/repo"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	return err == nil && c < b.cost()
}

// Repository is the user store used by the service. *repo.UserRepo implements it.
type Repository interface {
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error)
	IncrementFailedLogin(ctx context.Context, id int64) (int, error)
	LockIfThreshold(ctx context.Context, id int64, threshold int, lockMinutes int) (bool, error)
	ResetLoginSuccess(ctx context.Context, id int64) error
	UnlockIfExpired(ctx context.Context, id int64) (bool, error)
	UpdatePassword(ctx context.Context, id int64, hash, algo string, bumpVersion bool) error
	SetConfirmed(ctx context.Context, id int64) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdateUsername(ctx context.Context, id int64, username string) error
	UpdateDetails(ctx context.Context, u *entity.User) error
	Deactivate(ctx context.Context, id int64) error
}

// Notifier queues account emails.
type Notifier interface {
	Dispatch(ctx context.Context, recipient, subject, tmpl string, data notify.TemplateData) error
}

// IDGenerator hands out new user ids.
type IDGenerator interface {
	Next() int64
}

// Config holds the account flow knobs.
type Config struct {
	BaseURL        string
	Leeway         time.Duration
	ConfirmTTL     time.Duration
	ResetTTL       time.Duration
	ChangeEmailTTL time.Duration
	MaxFailed      int
	LockMinutes    int
	MinAge         int
}

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	repo     Repository
	hasher   PasswordHasher
	tokens   *token.Service
	notifier Notifier
	ids      IDGenerator
	cfg      Config
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewUserService(r Repository, hasher PasswordHasher, tokens *token.Service, n Notifier, ids IDGenerator, cfg Config, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = token.DefaultTTL(token.ActionConfirm)
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = token.DefaultTTL(token.ActionReset)
	}
	if cfg.ChangeEmailTTL <= 0 {
		cfg.ChangeEmailTTL = token.DefaultTTL(token.ActionChangeEmail)
	}
	if cfg.MaxFailed <= 0 {
		cfg.MaxFailed = 6
	}
	if cfg.LockMinutes <= 0 {
		cfg.LockMinutes = 15
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 18
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &UserService{repo: r, hasher: hasher, tokens: tokens, notifier: n, ids: ids, cfg: cfg, logger: logger, now: time.Now}
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrLocked             = errors.New("user locked")
	ErrDisabled           = errors.New("user disabled")
	ErrBadCredentials     = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username not available")
	ErrInvalidDateOfBirth = errors.New("invalid date of birth")
	ErrUnderage           = errors.New("below minimum age")
	ErrAlreadyConfirmed   = errors.New("account already confirmed")
	ErrAlreadyJoined      = errors.New("user already joined")
	ErrInviteResent       = errors.New("invite link invalid, a new one was sent")
	ErrMissingNewEmail    = errors.New("token carries no new email")
	ErrUnknownField       = errors.New("unknown field")
	ErrNoFields           = errors.New("no fields to update")
)

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	DateOfBirth string
}

// Register creates an unconfirmed user and emails a confirmation link.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if err := s.checkDateOfBirth(in.DateOfBirth); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}
	if err := s.ensureUsernameFree(ctx, username, 0); err != nil {
		return nil, err
	}
	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &entity.User{
		ID:                s.ids.Next(),
		Username:          &username,
		Email:             email,
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		DateOfBirth:       in.DateOfBirth,
		PasswordHash:      &hash,
		PasswordAlgo:      &algo,
		PasswordUpdatedAt: &now,
		Role:              entity.RoleUser,
		Status:            entity.StatusActive,
		Version:           1,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.sendConfirmation(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// AuthenticatePassword performs password authentication by email or username.
// On success resets counters and returns the user minimal auth view.
func (s *UserService) AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.MinimalAuthView, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrBadCredentials
	}

	var u *entity.User
	var err error
	if strings.Contains(identifier, "@") {
		u, err = s.repo.GetByEmail(ctx, normalizeEmail(identifier))
	} else {
		u, err = s.repo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}

	// Expired lock auto-unlock attempt
	if u.Status == entity.StatusLocked && u.LockedUntil != nil && u.LockedUntil.Before(s.now()) {
		if unlocked, _ := s.repo.UnlockIfExpired(ctx, u.ID); unlocked {
			u.Status = entity.StatusActive
			u.LockedUntil = nil
		}
	}

	switch u.Status {
	case entity.StatusLocked:
		return nil, ErrLocked
	case entity.StatusDisabled:
		return nil, ErrDisabled
	}
	if !u.HasPassword() {
		return nil, ErrBadCredentials
	}

	if !s.hasher.Verify(*u.PasswordHash, password) {
		if _, incErr := s.repo.IncrementFailedLogin(ctx, u.ID); incErr == nil {
			_, _ = s.repo.LockIfThreshold(ctx, u.ID, s.cfg.MaxFailed, s.cfg.LockMinutes)
		}
		return nil, ErrBadCredentials
	}

	if err := s.repo.ResetLoginSuccess(ctx, u.ID); err != nil {
		return nil, err
	}

	if s.hasher.NeedsRehash(*u.PasswordHash) {
		if newHash, algo, hErr := s.hasher.Hash(password); hErr == nil {
			_ = s.repo.UpdatePassword(ctx, u.ID, newHash, algo, false)
		}
	}
	return s.repo.GetMinimalAuthView(ctx, u.ID)
}

// RequestConfirmation mails a fresh confirmation link and returns the address used.
func (s *UserService) RequestConfirmation(ctx context.Context, userID int64) (string, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := s.sendConfirmation(ctx, u); err != nil {
		return "", err
	}
	return u.Email, nil
}

// ConfirmAccount marks the user confirmed when tok is a confirm token minted for them.
func (s *UserService) ConfirmAccount(ctx context.Context, userID int64, tok string) error {
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if u.Confirmed {
		return ErrAlreadyConfirmed
	}
	if _, err := s.tokens.Verify(u, tok, token.ActionConfirm, s.cfg.Leeway); err != nil {
		return err
	}
	return s.repo.SetConfirmed(ctx, u.ID)
}

// RequestPasswordReset mails a reset link when email belongs to a user. Unknown
// addresses succeed silently.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	tok, err := s.tokens.Issue(u, token.ActionReset, s.cfg.ResetTTL, nil)
	if err != nil {
		return err
	}
	s.send(ctx, u.Email, "Reset Your Password", notify.TemplateResetPassword, u, s.link("/user/reset-password/"+tok))
	return nil
}

// ResetPassword sets a new password for the owner of email when tok is a reset token
// minted for that user. Existing sessions are revoked.
func (s *UserService) ResetPassword(ctx context.Context, email, tok, newPassword string) error {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return mapRepoErr(err)
	}
	if _, err := s.tokens.Verify(u, tok, token.ActionReset, s.cfg.Leeway); err != nil {
		return err
	}
	hash, algo, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, u.ID, hash, algo, true)
}

func (s *UserService) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if !s.checkPassword(u, oldPassword) {
		return ErrBadCredentials
	}
	hash, algo, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, u.ID, hash, algo, false)
}

// ChangeUsername sets the username. Invited users choosing their first username
// before any password exists skip the password check.
func (s *UserService) ChangeUsername(ctx context.Context, userID int64, password, username string) error {
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	first := u.Username == nil && !u.HasPassword()
	if !first && !s.checkPassword(u, password) {
		return ErrBadCredentials
	}
	username = strings.TrimSpace(username)
	if err := s.ensureUsernameFree(ctx, username, u.ID); err != nil {
		return err
	}
	return mapRepoErr(s.repo.UpdateUsername(ctx, u.ID, username))
}

// RequestEmailChange mails a change_email link to newEmail.
func (s *UserService) RequestEmailChange(ctx context.Context, userID int64, password, newEmail string) error {
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if !s.checkPassword(u, password) {
		return ErrBadCredentials
	}
	newEmail = normalizeEmail(newEmail)
	if err := s.ensureEmailFree(ctx, newEmail, u.ID); err != nil {
		return err
	}
	tok, err := s.tokens.Issue(u, token.ActionChangeEmail, s.cfg.ChangeEmailTTL, map[string]any{"new_email": newEmail})
	if err != nil {
		return err
	}
	s.send(ctx, newEmail, "Confirm Your New Email", notify.TemplateChangeEmail, u, s.link("/user/manage/change-email/"+tok))
	return nil
}

// ChangeEmail applies the address carried by a change_email token. Applying the same
// token twice leaves the address unchanged.
func (s *UserService) ChangeEmail(ctx context.Context, userID int64, tok string) (string, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return "", err
	}
	claims, err := s.tokens.Verify(u, tok, token.ActionChangeEmail, s.cfg.Leeway)
	if err != nil {
		return "", err
	}
	newEmail, ok := claims.String("new_email")
	if !ok || newEmail == "" {
		return "", ErrMissingNewEmail
	}
	if strings.EqualFold(newEmail, u.Email) {
		return u.Email, nil
	}
	if err := s.ensureEmailFree(ctx, newEmail, u.ID); err != nil {
		return "", err
	}
	if err := s.repo.UpdateEmail(ctx, u.ID, newEmail); err != nil {
		return "", mapRepoErr(err)
	}
	return newEmail, nil
}

// detailSetters lists the profile fields owners may edit.
var detailSetters = map[string]func(s *UserService, u *entity.User, v string) error{
	"first_name": func(_ *UserService, u *entity.User, v string) error {
		u.FirstName = strings.TrimSpace(v)
		return nil
	},
	"last_name": func(_ *UserService, u *entity.User, v string) error {
		u.LastName = strings.TrimSpace(v)
		return nil
	},
	"date_of_birth": func(s *UserService, u *entity.User, v string) error {
		if err := s.checkDateOfBirth(v); err != nil {
			return err
		}
		u.DateOfBirth = v
		return nil
	},
}

// UpdateDetails applies fields through the allow-listed setters. Any unknown field
// rejects the whole update.
func (s *UserService) UpdateDetails(ctx context.Context, userID int64, fields map[string]string) (*entity.User, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	u, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	for name, value := range fields {
		set, ok := detailSetters[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		if err := set(s, u, value); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateDetails(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// InviteInput carries what an admin supplies when inviting someone.
type InviteInput struct {
	Email     string
	FirstName string
	LastName  string
}

// Invite creates a password-less user and mails a join link.
func (s *UserService) Invite(ctx context.Context, in InviteInput) (*entity.User, error) {
	email := normalizeEmail(in.Email)
	if err := s.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}
	u := &entity.User{
		ID:        s.ids.Next(),
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Role:      entity.RoleUser,
		Status:    entity.StatusActive,
		Version:   1,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, mapRepoErr(err)
	}
	if err := s.sendInvite(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// JoinFromInvite sets the first password of an invited user. When tok no longer
// verifies a new invite is mailed and ErrInviteResent is returned alongside the
// token error.
func (s *UserService) JoinFromInvite(ctx context.Context, userID int64, tok, password string) error {
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if u.HasPassword() {
		return ErrAlreadyJoined
	}
	if _, err := s.tokens.Verify(u, tok, token.ActionConfirm, s.cfg.Leeway); err != nil {
		if sendErr := s.sendInvite(ctx, u); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return errors.Join(ErrInviteResent, err)
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, u.ID, hash, algo, false); err != nil {
		return err
	}
	return s.repo.SetConfirmed(ctx, u.ID)
}

// Deactivate disables the account after re-checking the password.
func (s *UserService) Deactivate(ctx context.Context, userID int64, password string) error {
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if !s.checkPassword(u, password) {
		return ErrBadCredentials
	}
	return s.repo.Deactivate(ctx, u.ID)
}

// EnsureAdmin creates a confirmed admin account for email unless one exists. It
// reports whether a user was created.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	now := s.now()
	u := &entity.User{
		ID:                s.ids.Next(),
		Email:             email,
		FirstName:         "Admin",
		LastName:          "Account",
		PasswordHash:      &hash,
		PasswordAlgo:      &algo,
		PasswordUpdatedAt: &now,
		Role:              entity.RoleAdmin,
		Confirmed:         true,
		Status:            entity.StatusActive,
		Version:           1,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return false, nil
		}
		return false, err
	}
	s.logger.Infow("admin account created", "email", email)
	return true, nil
}

// Profile returns the account view shown to its owner.
func (s *UserService) Profile(ctx context.Context, userID int64) (*entity.Profile, error) {
	u, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &entity.Profile{User: u, FullName: u.FullName(), Age: u.Age(s.now())}, nil
}

// GetMinimalAuthView retrieves the minimal projection for a user by ID.
func (s *UserService) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	v, err := s.repo.GetMinimalAuthView(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return v, nil
}

func (s *UserService) get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return u, nil
}

func (s *UserService) checkPassword(u *entity.User, password string) bool {
	return u.HasPassword() && s.hasher.Verify(*u.PasswordHash, password)
}

func (s *UserService) checkDateOfBirth(v string) error {
	dob, err := time.Parse(entity.DateOfBirthLayout, v)
	if err != nil {
		return ErrInvalidDateOfBirth
	}
	if entity.YearsBetween(dob, s.now()) < s.cfg.MinAge {
		return ErrUnderage
	}
	return nil
}

// ensureEmailFree fails when email belongs to a user other than self.
func (s *UserService) ensureEmailFree(ctx context.Context, email string, self int64) error {
	other, err := s.repo.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	case other.ID != self:
		return ErrEmailTaken
	}
	return nil
}

func (s *UserService) ensureUsernameFree(ctx context.Context, username string, self int64) error {
	other, err := s.repo.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	case other.ID != self:
		return ErrUsernameTaken
	}
	return nil
}

func (s *UserService) sendConfirmation(ctx context.Context, u *entity.User) error {
	tok, err := s.tokens.Issue(u, token.ActionConfirm, s.cfg.ConfirmTTL, nil)
	if err != nil {
		return err
	}
	s.send(ctx, u.Email, "Confirm Your Account", notify.TemplateConfirm, u, s.link("/user/confirm-account/"+tok))
	return nil
}

func (s *UserService) sendInvite(ctx context.Context, u *entity.User) error {
	tok, err := s.tokens.Issue(u, token.ActionConfirm, s.cfg.ConfirmTTL, nil)
	if err != nil {
		return err
	}
	s.send(ctx, u.Email, "You Are Invited To Join", notify.TemplateInvite, u, s.link(fmt.Sprintf("/user/join-from-invite/%d/%s", u.ID, tok)))
	return nil
}

// send queues an email. Delivery problems are logged, never returned.
func (s *UserService) send(ctx context.Context, to, subject, tmpl string, u *entity.User, link string) {
	data := notify.TemplateData{Name: u.FullName(), Link: link}
	if err := s.notifier.Dispatch(ctx, to, subject, tmpl, data); err != nil {
		s.logger.Warnw("queue email", "to", to, "template", tmpl, "err", err)
	}
}

func (s *UserService) link(path string) string { return s.cfg.BaseURL + path }

func normalizeEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrUserNotFound
	case errors.Is(err, userrepo.ErrDuplicateEmail):
		return ErrEmailTaken
	case errors.Is(err, userrepo.ErrDuplicateUsername):
		return ErrUsernameTaken
	default:
		return err
	}
}
