package task

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/task/entity"
)

const maxContentLen = 100

var (
	ErrNotFound       = errors.New("task not found")
	ErrNoChanges      = errors.New("no changes made")
	ErrInvalidContent = errors.New("task content must be 1 to 100 characters")
)

// Repository is the task store. *repo.TaskRepo implements it.
type Repository interface {
	Create(ctx context.Context, t *entity.Task) error
	ListByUser(ctx context.Context, userID int64) ([]*entity.Task, error)
	Get(ctx context.Context, userID, id int64) (*entity.Task, error)
	UpdateContent(ctx context.Context, userID, id int64, content string) (int64, error)
	Delete(ctx context.Context, userID, id int64) (int64, error)
}

type IDGenerator interface {
	Next() int64
}

// Service holds task business rules.
type Service struct {
	repo Repository
	ids  IDGenerator
}

func NewService(r Repository, ids IDGenerator) *Service {
	return &Service{repo: r, ids: ids}
}

func (s *Service) List(ctx context.Context, userID int64) ([]*entity.Task, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, id int64) (*entity.Task, error) {
	t, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, userID int64, content string) (*entity.Task, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	t := &entity.Task{ID: s.ids.Next(), Content: content, UserID: userID}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update replaces the content. Submitting the current content returns ErrNoChanges.
func (s *Service) Update(ctx context.Context, userID, id int64, content string) (*entity.Task, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if t.Content == content {
		return t, ErrNoChanges
	}
	n, err := s.repo.UpdateContent(ctx, userID, id, content)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	t.Content = content
	return t, nil
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	n, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func cleanContent(c string) (string, error) {
	c = strings.TrimSpace(c)
	if n := utf8.RuneCountInString(c); n == 0 || n > maxContentLen {
		return "", ErrInvalidContent
	}
	return c, nil
}
