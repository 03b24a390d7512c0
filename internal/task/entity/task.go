package entity

import "time"

// Task is a to-do item owned by one user.
type Task struct {
	ID         int64     `db:"id" json:"id"`
	Content    string    `db:"content" json:"content"`
	DatePosted time.Time `db:"date_posted" json:"date_posted"`
	UserID     int64     `db:"user_id" json:"user_id"`
}
