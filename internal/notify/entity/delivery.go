package entity

import "time"

const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Delivery records the final outcome of one queued email.
type Delivery struct {
	ID        int64     `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"job_id"`
	Recipient string    `db:"recipient" json:"recipient"`
	Subject   string    `db:"subject" json:"subject"`
	Tag       string    `db:"tag" json:"tag,omitempty"`
	Status    string    `db:"status" json:"status"`
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
