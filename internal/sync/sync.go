package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	"github.com/Philanthropists/imapfeed/internal/handler"
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/metrics"
	"github.com/Philanthropists/imapfeed/internal/session"
	synctypes "github.com/Philanthropists/imapfeed/internal/sync/types"
)

// Bot ties the session supervisor, the keepalive loop and the poll loop
// together.
type Bot struct {
	opts       synctypes.Options
	supervisor *session.Supervisor
	gateway    *session.Gateway
	ingester   *Ingester
	notifier   synctypes.Notifier
}

func New(dialer types.Dialer, handlers *handler.Registry, opts synctypes.Options, notifier synctypes.Notifier, m *metrics.Metrics) *Bot {
	supervisor := session.NewSupervisor(dialer, opts.Session, m)
	gateway := supervisor.Gateway()

	return &Bot{
		opts:       opts,
		supervisor: supervisor,
		gateway:    gateway,
		ingester:   NewIngester(gateway, handlers, opts.Filter, m),
		notifier:   notifier,
	}
}

// Run blocks until ctx is done or one of the loops fails. The first loop to
// exit stops the other two, and its error is returned once all of them have
// finished.
func (b *Bot) Run(ctx context.Context) error {
	log := logger.GetLogger()
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loops := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"session", b.supervisor.Run},
		{"keepalive", func(ctx context.Context) error {
			return KeepAlive(ctx, b.gateway, b.opts.NoopInterval)
		}},
		{"poll", func(ctx context.Context) error {
			return Poll(ctx, b.ingester, b.opts.PollInterval)
		}},
	}

	var (
		wg       gosync.WaitGroup
		once     gosync.Once
		firstErr error
		errs     = make([]error, len(loops))
	)
	for i, loop := range loops {
		wg.Add(1)
		go func(i int, name string, run func(ctx context.Context) error) {
			defer wg.Done()

			err := run(ctx)
			errs[i] = err
			if err != nil {
				log.Errorw("Loop exited with error",
					"loop", name,
					"error", err,
				)
			} else {
				log.Debugw("Loop exited", "loop", name)
			}

			once.Do(func() {
				firstErr = err
				cancel()
			})
		}(i, loop.name, loop.run)
	}

	log.Infow("Feed bot running",
		"filter", b.ingester.filter,
		"poll_interval", b.opts.PollInterval,
		"noop_interval", b.opts.NoopInterval,
	)

	wg.Wait()

	// The other loops only see ErrStopped when the session gave up; its
	// own error says why.
	if errors.Is(firstErr, session.ErrStopped) && errs[0] != nil {
		firstErr = errs[0]
	}

	if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
		SendNotification(b.notifier, fmt.Sprintf("imapfeed stopped: %s", firstErr))
		return firstErr
	}

	log.Info("Feed bot stopped")
	return nil
}

// RunOnce performs a single ingest pass and stops the session afterwards.
func (b *Bot) RunOnce(ctx context.Context) (Summary, error) {
	log := logger.GetLogger()
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(ctx)

	supervisorErr := make(chan error, 1)
	go func() {
		supervisorErr <- b.supervisor.Run(ctx)
	}()

	summary, err := b.ingester.Ingest(ctx)
	cancel()

	if serr := <-supervisorErr; serr != nil && (err == nil || errors.Is(err, session.ErrStopped)) {
		err = serr
	}

	if err != nil {
		SendNotification(b.notifier, fmt.Sprintf("imapfeed pass failed: %s", err))
		return summary, err
	}

	log.Infow("Synced mails",
		"messages", summary.Messages,
		"parts", summary.Parts,
		"handled", summary.Handled,
	)

	return summary, nil
}
