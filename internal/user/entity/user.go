package entity

import (
	"fmt"
	"time"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account statuses.
const (
	StatusActive   = "active"
	StatusLocked   = "locked"
	StatusDisabled = "disabled"
)

// DateOfBirthLayout is the accepted date of birth format.
const DateOfBirthLayout = "2006-01-02"

// User represents an account row in the `users` table.
type User struct {
	ID                  int64      `db:"id" json:"id"`
	Username            *string    `db:"username" json:"username"`
	Email               string     `db:"email" json:"email"`
	FirstName           string     `db:"first_name" json:"first_name"`
	LastName            string     `db:"last_name" json:"last_name"`
	DateOfBirth         string     `db:"date_of_birth" json:"date_of_birth"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	PasswordAlgo        *string    `db:"password_algo" json:"-"`
	PasswordUpdatedAt   *time.Time `db:"password_updated_at" json:"-"`
	Role                string     `db:"role" json:"role"`
	Confirmed           bool       `db:"confirmed" json:"confirmed"`
	Status              string     `db:"status" json:"status"`
	LoginFailedAttempts int        `db:"login_failed_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	Version             int64      `db:"version" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	DeactivatedAt       *time.Time `db:"deactivated_at" json:"-"`
}

// PrincipalID binds action tokens to this user.
func (u *User) PrincipalID() int64 { return u.ID }

func (u *User) FullName() string {
	return fmt.Sprintf("%s %s", u.FirstName, u.LastName)
}

// Can reports whether the user holds role; admins hold every role.
func (u *User) Can(role string) bool {
	return u.Role == role || u.Role == RoleAdmin
}

func (u *User) IsAdmin() bool { return u.Can(RoleAdmin) }

// HasPassword is false for invited users who have not joined yet.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Age returns the age in whole years at now, or 0 when the date of birth is unparsable.
func (u *User) Age(now time.Time) int {
	dob, err := time.Parse(DateOfBirthLayout, u.DateOfBirth)
	if err != nil {
		return 0
	}
	return YearsBetween(dob, now)
}

// YearsBetween counts completed years from birth to now.
func YearsBetween(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	return years
}

// MinimalAuthView is the minimal projection required for session checks.
type MinimalAuthView struct {
	ID        int64   `db:"id" json:"id"`
	Username  *string `db:"username" json:"username"`
	Email     string  `db:"email" json:"email"`
	Role      string  `db:"role" json:"role"`
	Confirmed bool    `db:"confirmed" json:"confirmed"`
	Status    string  `db:"status" json:"status"`
	Version   int64   `db:"version" json:"-"`
}

func (v *MinimalAuthView) PrincipalID() int64 { return v.ID }

func (v *MinimalAuthView) IsAdmin() bool { return v.Role == RoleAdmin }

// Profile is the account view returned to its owner.
type Profile struct {
	*User
	FullName string `json:"full_name"`
	Age      int    `json:"age"`
}
