package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/session"
)

const DefaultPollInterval = 300 * time.Second

// Poll runs an ingest pass, waits interval and repeats. Passes never
// overlap. A handler failure ends the loop and is returned; any other
// failure only ends the current pass.
func Poll(ctx context.Context, ingester *Ingester, interval time.Duration) error {
	log := logger.GetLogger().Named("poll")

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		started := time.Now()
		summary, err := ingester.Ingest(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && isFatal(err):
			log.Errorw("Ingest pass failed fatally",
				"error", err,
				"messages", summary.Messages,
			)
			return err
		case err != nil:
			log.Errorw("Ingest pass failed, retrying next interval",
				"error", err,
				"messages", summary.Messages,
				"retry_in", interval,
			)
		default:
			log.Infow("Ingest pass finished",
				"messages", summary.Messages,
				"parts", summary.Parts,
				"handled", summary.Handled,
				"took", time.Since(started),
			)
		}

		if err := wait(ctx, interval); err != nil {
			return nil
		}
	}
}

func isFatal(err error) bool {
	var handlerErr *HandlerError
	return errors.As(err, &handlerErr) || errors.Is(err, session.ErrStopped)
}
