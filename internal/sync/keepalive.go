package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/session"
)

const DefaultNoopInterval = 10 * time.Second

type Nooper interface {
	Noop(ctx context.Context) error
}

// KeepAlive sends NOOP every interval so the server does not drop an idle
// session. It returns nil when ctx is done and ErrStopped once the session
// supervisor is gone.
func KeepAlive(ctx context.Context, mailbox Nooper, interval time.Duration) error {
	log := logger.GetLogger().Named("keepalive")

	if interval <= 0 {
		interval = DefaultNoopInterval
	}

	for {
		if err := mailbox.Noop(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, session.ErrStopped) {
				return err
			}
			log.Warnw("NOOP failed", "error", err)
		}

		if err := wait(ctx, interval); err != nil {
			return nil
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
