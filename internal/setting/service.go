package setting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/setting/entity"
)

// Repository is the settings store. *repo.Repo implements it.
type Repository interface {
	Get(ctx context.Context, userID int64) (*entity.Setting, error)
	Insert(ctx context.Context, s *entity.Setting) (int64, error)
	Update(ctx context.Context, s *entity.Setting, expected int64) (int64, error)
}

// Service encapsulates business logic for settings and depends on a repo.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service with the provided repository.
func NewService(r Repository) *Service {
	return &Service{repo: r, now: time.Now}
}

// sentinel errors for common failure modes
var (
	ErrVersionConflict = errors.New("version conflict")
	ErrUnknownField    = errors.New("unknown setting")
	ErrInvalidValue    = errors.New("invalid setting value")
	ErrNoFields        = errors.New("no settings to update")
)

// setters lists the settings users may change.
var setters = map[string]func(s *entity.Setting, v string) error{
	"notification_interval": func(s *entity.Setting, v string) error {
		if !slices.Contains(entity.Intervals, v) {
			return fmt.Errorf("%w: notification_interval must be one of %v", ErrInvalidValue, entity.Intervals)
		}
		s.NotificationInterval = v
		return nil
	},
}

// Get returns the user's settings, falling back to defaults when none are stored.
func (s *Service) Get(ctx context.Context, userID int64) (*entity.Setting, error) {
	st, err := s.repo.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Default(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Update applies fields using optimistic locking on version. version must equal the
// version the caller last read (0 before the first save).
func (s *Service) Update(ctx context.Context, userID int64, fields map[string]string, version int64) (*entity.Setting, error) {
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	existing, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing.Version != version {
		return nil, ErrVersionConflict
	}
	next := *existing
	for name, value := range fields {
		set, ok := setters[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		if err := set(&next, value); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	next.Version = version + 1
	next.UpdatedAt = now
	var rows int64
	if version == 0 {
		next.CreatedAt = now
		rows, err = s.repo.Insert(ctx, &next)
	} else {
		rows, err = s.repo.Update(ctx, &next, version)
	}
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// someone saved in between
		return nil, ErrVersionConflict
	}
	return &next, nil
}
