// Package session issues bearer access tokens and persisted refresh tokens for
// logged-in users.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/token"
	userentity "github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
)

// ActionAccess is the token action carried by access tokens.
const ActionAccess token.Action = "access"

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrRevoked      = errors.New("session revoked")
	ErrInactive     = errors.New("account inactive")
)

// RefreshStore persists refresh sessions. *repo.RefreshRepo implements it.
type RefreshStore interface {
	Save(ctx context.Context, tokenHash string, userID int64, clientID string, expiresAt time.Time) (int64, error)
	Get(ctx context.Context, tokenHash string) (*entity.RefreshSession, error)
	Delete(ctx context.Context, tokenHash string) (bool, error)
	DeleteByUser(ctx context.Context, userID int64) error
}

// UserStore is the slice of the user store sessions need.
type UserStore interface {
	GetMinimalAuthView(ctx context.Context, id int64) (*userentity.MinimalAuthView, error)
	BumpVersion(ctx context.Context, id int64) error
}

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Service manages access and refresh tokens.
type Service struct {
	tokens  *token.Service
	refresh RefreshStore
	users   UserStore
	cfg     Config
	now     func() time.Time
}

func NewService(tokens *token.Service, refresh RefreshStore, users UserStore, cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Service{tokens: tokens, refresh: refresh, users: users, cfg: cfg, now: time.Now}
}

// Issue creates an access token for u. With remember set a refresh token is created
// as well.
func (s *Service) Issue(ctx context.Context, u *userentity.MinimalAuthView, clientID string, remember bool) (*entity.Pair, error) {
	access, err := s.tokens.Issue(u, ActionAccess, s.cfg.AccessTTL, map[string]any{"v": u.Version})
	if err != nil {
		return nil, err
	}
	pair := &entity.Pair{AccessToken: access, TokenType: "Bearer", ExpiresIn: int(s.cfg.AccessTTL.Seconds())}
	if !remember {
		return pair, nil
	}

	// opaque refresh token, stored hashed
	rtBytes := make([]byte, 32)
	if _, err := rand.Read(rtBytes); err != nil {
		return nil, err
	}
	refresh := base64.RawURLEncoding.EncodeToString(rtBytes)
	if _, err := s.refresh.Save(ctx, hashToken(refresh), u.ID, clientID, s.now().Add(s.cfg.RefreshTTL)); err != nil {
		return nil, err
	}
	pair.RefreshToken = refresh
	return pair, nil
}

// Authenticate resolves a bearer access token to the current user. Tokens minted
// before the user's version changed are rejected.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*userentity.MinimalAuthView, error) {
	claims, err := s.tokens.Decode(bearer, ActionAccess, s.cfg.Leeway)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	version, ok := claims.Int64("v")
	if !ok {
		return nil, ErrInvalidToken
	}
	u, err := s.users.GetMinimalAuthView(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if u.Version != version {
		return nil, ErrRevoked
	}
	if u.Status != userentity.StatusActive {
		return nil, ErrInactive
	}
	return u, nil
}

// Refresh redeems a refresh token and returns a new pair. The old token stops
// working.
func (s *Service) Refresh(ctx context.Context, refresh string) (*entity.Pair, error) {
	if refresh == "" {
		return nil, ErrInvalidToken
	}
	h := hashToken(refresh)
	rs, err := s.refresh.Get(ctx, h)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	// rotate: only the caller that actually deletes the row may continue
	deleted, err := s.refresh.Delete(ctx, h)
	if err != nil {
		return nil, err
	}
	if !deleted || !rs.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidToken
	}
	u, err := s.users.GetMinimalAuthView(ctx, rs.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if u.Status != userentity.StatusActive {
		return nil, ErrInactive
	}
	return s.Issue(ctx, u, rs.ClientID, true)
}

// Logout revokes every session of the user.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.users.BumpVersion(ctx, userID); err != nil {
		return err
	}
	return s.refresh.DeleteByUser(ctx, userID)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

type ctxKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u *userentity.MinimalAuthView) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the authenticated user stored by WithUser.
func UserFrom(ctx context.Context) (*userentity.MinimalAuthView, bool) {
	u, ok := ctx.Value(ctxKey{}).(*userentity.MinimalAuthView)
	return u, ok && u != nil
}
