package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredPurger prunes refresh sessions past their expiry. *repo.RefreshRepo implements it.
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgeLoop deletes expired refresh sessions every interval until ctx is done.
func PurgeLoop(ctx context.Context, p ExpiredPurger, every time.Duration, logger *zap.SugaredLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := p.DeleteExpired(ctx, now.UTC())
			if err != nil {
				logger.Warnw("purge expired sessions failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debugw("purged expired sessions", "count", n)
			}
		}
	}
}
