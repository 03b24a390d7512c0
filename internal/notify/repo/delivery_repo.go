package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify/entity"
)

type DeliveryRepo struct {
	db *sqlx.DB
}

func NewDeliveryRepo(db *sqlx.DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// Record inserts a delivery outcome.
func (r *DeliveryRepo) Record(ctx context.Context, d *entity.Delivery) error {
	const q = `INSERT INTO email_deliveries (id, job_id, recipient, subject, tag, status, attempts, last_error)
		VALUES (:id, :job_id, :recipient, :subject, :tag, :status, :attempts, :last_error)`
	_, err := r.db.NamedExecContext(ctx, q, d)
	return err
}

// ListByRecipient returns the latest deliveries for recipient, newest first.
func (r *DeliveryRepo) ListByRecipient(ctx context.Context, recipient string, limit int) ([]*entity.Delivery, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const q = `SELECT id, job_id, recipient, subject, tag, status, attempts, last_error, created_at
		FROM email_deliveries WHERE recipient=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	out := []*entity.Delivery{}
	if err := r.db.SelectContext(ctx, &out, q, recipient, limit); err != nil {
		return nil, err
	}
	return out, nil
}
