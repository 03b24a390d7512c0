// Package notify renders account emails and delivers them asynchronously.
//
// Callers hand a message to the Dispatcher, which renders it and pushes a Job onto a
// Queue (Redis when configured, in-process otherwise). Workers pop jobs, send them
// through a Sender and record the outcome. Callers never wait on delivery.
package notify

import (
	"errors"
	"time"
)

// Template names.
const (
	TemplateConfirm       = "confirm.html"
	TemplateResetPassword = "reset_password.html"
	TemplateChangeEmail   = "change_email.html"
	TemplateInvite        = "invite.html"
)

var (
	ErrQueueFull        = errors.New("notification queue full")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrUnknownTemplate  = errors.New("unknown template")
	ErrFailedToSend     = errors.New("failed to send email")
	ErrInvalidMailSetup = errors.New("invalid mail configuration")
)

// Message is a rendered email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
}

func (m Message) Validate() error {
	if m.To == "" || m.Subject == "" || m.BodyHTML == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Job is a queued message plus delivery bookkeeping.
type Job struct {
	ID         string    `json:"id"`
	Message    Message   `json:"message"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TemplateData is passed to every email template.
type TemplateData struct {
	Name    string
	Link    string
	AppName string
}
