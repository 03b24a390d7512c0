package entity

import "time"

// Notification intervals.
const (
	IntervalNever   = "never"
	IntervalDaily   = "daily"
	IntervalWeekly  = "weekly"
	IntervalMonthly = "monthly"
)

// Intervals lists the accepted notification intervals.
var Intervals = []string{IntervalNever, IntervalDaily, IntervalWeekly, IntervalMonthly}

// Setting holds one user's preferences. Version 0 means nothing is stored yet.
type Setting struct {
	UserID               int64     `db:"user_id" json:"user_id"`
	NotificationInterval string    `db:"notification_interval" json:"notification_interval"`
	Version              int64     `db:"version" json:"version"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Default returns the settings a user has before saving any.
func Default(userID int64) *Setting {
	return &Setting{UserID: userID, NotificationInterval: IntervalWeekly}
}
