package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to the log instead of sending them. Used in development.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.logger.Infow("email (log driver)", "to", m.To, "subject", m.Subject, "tag", m.Tag, "body", m.BodyHTML)
	return nil
}

// PostmarkSender sends through Postmark's transactional API.
type PostmarkSender struct {
	client  *postmark.Client
	from    string
	replyTo string
}

func NewPostmarkSender(serverToken, accountToken, from, replyTo string) (*PostmarkSender, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidMailSetup)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: sender email is required", ErrInvalidMailSetup)
	}
	if replyTo == "" {
		replyTo = from
	}
	return &PostmarkSender{
		client:  postmark.NewClient(serverToken, accountToken),
		from:    from,
		replyTo: replyTo,
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.replyTo,
		To:         m.To,
		Subject:    m.Subject,
		Tag:        m.Tag,
		HTMLBody:   m.BodyHTML,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSend, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
