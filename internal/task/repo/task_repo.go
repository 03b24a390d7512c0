package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/task/entity"
)

// TaskRepo stores tasks. Every query is scoped by owner.
type TaskRepo struct {
	db *sqlx.DB
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) Create(ctx context.Context, t *entity.Task) error {
	const q = `INSERT INTO tasks (id, content, user_id) VALUES ($1, $2, $3) RETURNING date_posted`
	return r.db.GetContext(ctx, &t.DatePosted, q, t.ID, t.Content, t.UserID)
}

// ListByUser returns the user's tasks, oldest first.
func (r *TaskRepo) ListByUser(ctx context.Context, userID int64) ([]*entity.Task, error) {
	const q = `SELECT id, content, date_posted, user_id FROM tasks WHERE user_id=$1 ORDER BY date_posted, id`
	out := []*entity.Task{}
	if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the task or sql.ErrNoRows when it does not exist or belongs to someone else.
func (r *TaskRepo) Get(ctx context.Context, userID, id int64) (*entity.Task, error) {
	const q = `SELECT id, content, date_posted, user_id FROM tasks WHERE id=$1 AND user_id=$2`
	var t entity.Task
	if err := r.db.GetContext(ctx, &t, q, id, userID); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) UpdateContent(ctx context.Context, userID, id int64, content string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET content=$3 WHERE id=$1 AND user_id=$2`, id, userID, content)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *TaskRepo) Delete(ctx context.Context, userID, id int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
