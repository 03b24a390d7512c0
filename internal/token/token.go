// Package token issues and verifies signed, single-purpose action tokens.
//
// A token binds one action (confirm, reset, change_email, ...) to one principal id and
// carries its own expiry, so no server-side storage is needed. The claim set has the
// shape {"<action>": <principal id>, "exp", "iat", "nbf", ...extra} and is signed with
// HS256 using the process-wide secret.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Action names the account transition a token authorizes.
type Action string

const (
	ActionConfirm     Action = "confirm"
	ActionReset       Action = "reset"
	ActionChangeEmail Action = "change_email"
)

// DefaultTTL returns the lifetime used for an action when the caller has no override.
func DefaultTTL(a Action) time.Duration {
	switch a {
	case ActionConfirm:
		return 7 * 24 * time.Hour
	case ActionReset, ActionChangeEmail:
		return time.Hour
	default:
		return time.Hour
	}
}

// Principal is anything a token can be bound to.
type Principal interface {
	PrincipalID() int64
}

// Subject is a bare principal id.
type Subject int64

func (s Subject) PrincipalID() int64 { return int64(s) }

var reservedClaims = map[string]struct{}{"exp": {}, "iat": {}, "nbf": {}}

// valid reports whether a can serve as a claim key: non-empty and not a time claim.
func (a Action) valid() bool {
	_, reserved := reservedClaims[string(a)]
	return a != "" && !reserved
}

// Claims is the decoded content of a verified token.
type Claims struct {
	Action    Action
	SubjectID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

// String returns an extra claim as a string.
func (c *Claims) String(key string) (string, bool) {
	v, ok := c.Extra[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int64 returns an extra numeric claim.
func (c *Claims) Int64(key string) (int64, bool) {
	n, err := toInt64(c.Extra[key])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service mints and verifies action tokens. It is safe for concurrent use: the secret
// is read-only after construction.
type Service struct {
	secret []byte
	method jwt.SigningMethod
	now    func() time.Time
}

func NewService(secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	s := &Service{secret: []byte(secret), method: jwt.SigningMethodHS256, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token binding action to p for ttl. extra is embedded verbatim and may
// not override exp/iat/nbf or the action key.
func (s *Service) Issue(p Principal, action Action, ttl time.Duration, extra map[string]any) (string, error) {
	if !action.valid() {
		return "", ErrInvalidAction
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved || k == string(action) {
			return "", fmt.Errorf("%w: %q", ErrReservedClaim, k)
		}
		claims[k] = v
	}
	claims[string(action)] = p.PrincipalID()
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	claims["iat"] = jwt.NewNumericDate(now)
	claims["nbf"] = jwt.NewNumericDate(now)

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks tok for signature, time window (widened by leeway) and that its action
// claim names p. The returned claims include any extra data embedded at issue time.
func (s *Service) Verify(p Principal, tok string, action Action, leeway time.Duration) (*Claims, error) {
	c, err := s.Decode(tok, action, leeway)
	if err != nil {
		return nil, err
	}
	if c.SubjectID != p.PrincipalID() {
		return nil, ErrActionMismatch
	}
	return c, nil
}

// Decode performs every check of Verify except principal binding. It is meant for
// callers that learn the principal from the token itself.
func (s *Service) Decode(tok string, action Action, leeway time.Duration) (*Claims, error) {
	if !action.valid() {
		return nil, ErrInvalidAction
	}
	// strict decoding rejects signatures whose unused trailing bits differ
	parser := jwt.NewParser(
		jwt.WithStrictDecoding(),
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(s.now),
	)
	mc := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tok, mc, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return nil, classify(err)
	}

	subject, err := toInt64(mc[string(action)])
	if err != nil {
		return nil, ErrActionMismatch
	}
	c := &Claims{Action: action, SubjectID: subject, Extra: map[string]any{}}
	if exp, _ := mc.GetExpirationTime(); exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, _ := mc.GetIssuedAt(); iat != nil {
		c.IssuedAt = iat.Time
	}
	for k, v := range mc {
		if _, reserved := reservedClaims[k]; reserved || k == string(action) {
			continue
		}
		c.Extra[k] = v
	}
	return c, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
