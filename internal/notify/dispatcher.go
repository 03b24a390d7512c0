package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher renders messages and hands them to the queue.
type Dispatcher struct {
	queue         Queue
	renderer      *Renderer
	appName       string
	subjectPrefix string
	logger        *zap.SugaredLogger
	now           func() time.Time
}

func NewDispatcher(q Queue, r *Renderer, appName string, logger *zap.SugaredLogger) *Dispatcher {
	prefix := ""
	if appName != "" {
		prefix = "[" + appName + "] "
	}
	return &Dispatcher{queue: q, renderer: r, appName: appName, subjectPrefix: prefix, logger: logger, now: time.Now}
}

// Dispatch renders tmpl and enqueues it for recipient. It returns once the job is
// queued; delivery happens later on a worker.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient, subject, tmpl string, data TemplateData) error {
	if data.AppName == "" {
		data.AppName = d.appName
	}
	body, err := d.renderer.Render(tmpl, data)
	if err != nil {
		return err
	}
	job := Job{
		ID: uuid.NewString(),
		Message: Message{
			To:       recipient,
			Subject:  d.subjectPrefix + subject,
			BodyHTML: body,
			Tag:      strings.TrimSuffix(tmpl, ".html"),
		},
		EnqueuedAt: d.now(),
	}
	if err := job.Message.Validate(); err != nil {
		return err
	}
	if err := d.queue.Push(ctx, job); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	d.logger.Debugw("email queued", "job", job.ID, "to", recipient, "tag", job.Message.Tag)
	return nil
}
