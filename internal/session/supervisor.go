package session

import (
	"context"
	"errors"
	"time"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/metrics"
)

const (
	DefaultMinDelay = 5 * time.Second
	DefaultMaxDelay = 60 * time.Second

	defaultQueueSize = 64
)

// ErrStopped is returned to callers whose command can no longer be served
// because the supervisor has exited.
var ErrStopped = errors.New("session supervisor stopped")

type Config struct {
	// MinDelay and MaxDelay bound the reconnect backoff.
	MinDelay time.Duration
	MaxDelay time.Duration

	// CommandTimeout limits a single command. A command that times out is
	// handled as a lost connection. Zero disables the limit.
	CommandTimeout time.Duration

	QueueSize int
}

// Op is the work of one Command, run against the live session.
type Op func(types.Session) (interface{}, error)

type Command struct {
	Name string
	Op   Op

	slot *slot
}

// Supervisor owns the single IMAP session and executes queued commands one
// at a time, in the order they were queued.
type Supervisor struct {
	cfg     Config
	dialer  types.Dialer
	log     logger.Logger
	metrics *metrics.SessionMetrics

	queue   chan *Command
	stopped chan struct{}

	// session is only touched by the Run goroutine.
	session types.Session

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(dialer types.Dialer, cfg Config, m *metrics.Metrics) *Supervisor {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if m == nil {
		m = metrics.Discard()
	}

	return &Supervisor{
		cfg:     cfg,
		dialer:  dialer,
		log:     logger.GetLogger().Named("session"),
		metrics: m.Session,
		queue:   make(chan *Command, cfg.QueueSize),
		stopped: make(chan struct{}),
		sleep:   sleep,
	}
}

func (s *Supervisor) Gateway() *Gateway {
	return &Gateway{queue: s.queue, stopped: s.stopped}
}

// Run serves the queue until ctx is done or the server rejects the
// credentials. Transport failures never end Run; they are retried.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.disconnect()
		close(s.stopped)
		s.drain()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.queue:
			if err := s.serve(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) serve(ctx context.Context, cmd *Command) error {
	for {
		if cmd.slot.Resolved() {
			s.metrics.Cancelled.Add(1)
			s.log.Debugw("Skipping command abandoned by its caller", "command", cmd.Name)
			return nil
		}

		if err := s.connect(ctx); err != nil {
			if ctx.Err() != nil {
				cmd.slot.fail(ErrStopped)
				return nil
			}
			cmd.slot.fail(err)
			return err
		}

		if cmd.slot.Resolved() {
			continue
		}

		sess := s.session
		value, err := offload(ctx, s.cfg.CommandTimeout, func() (interface{}, error) {
			return cmd.Op(sess)
		}, nil)

		switch {
		case err == nil:
			s.count(cmd, "ok")
			cmd.slot.finish(value)
			return nil
		case ctx.Err() != nil:
			cmd.slot.fail(ErrStopped)
			return nil
		case types.IsTransport(err):
			s.count(cmd, "transport_error")
			s.metrics.Reconnects.Add(1)
			s.disconnect()
			s.log.Errorw("Lost IMAP connection",
				"command", cmd.Name,
				"error", err,
			)
		default:
			s.count(cmd, "protocol_error")
			cmd.slot.fail(err)
			return nil
		}
	}
}

// connect dials until a session is live. Only a non transport failure, such
// as rejected credentials, or ctx ending stops the retries.
func (s *Supervisor) connect(ctx context.Context) error {
	b := newBackoff(s.cfg.MinDelay, s.cfg.MaxDelay)

	for s.session == nil {
		value, err := s.dial(ctx)
		if err == nil {
			s.session = value.(types.Session)
			s.metrics.Connects.Add(1)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !types.IsTransport(err) {
			s.log.Errorw("IMAP connection rejected", "error", err)
			return err
		}

		s.metrics.Reconnects.Add(1)
		s.log.Errorw("Failed IMAP connection", "error", err)

		delay := b.Next()
		s.log.Infof("Retrying connection in %.02f seconds", delay.Seconds())
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return nil
}

// dial runs one Dial bounded by CommandTimeout. A dial that succeeds after
// it was given up on is closed right away.
func (s *Supervisor) dial(ctx context.Context) (interface{}, error) {
	dialCtx := ctx
	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}

	return offload(dialCtx, 0, func() (interface{}, error) {
		return s.dialer.Dial(dialCtx)
	}, func(orphan interface{}) {
		closeSession(orphan.(types.Session))
	})
}

func (s *Supervisor) disconnect() {
	if s.session == nil {
		return
	}

	sess := s.session
	s.session = nil

	_, _ = offload(context.Background(), s.cfg.CommandTimeout, func() (interface{}, error) {
		closeSession(sess)
		return nil, nil
	}, nil)
}

// drain fails every command still queued once Run has exited.
func (s *Supervisor) drain() {
	for {
		select {
		case cmd := <-s.queue:
			cmd.slot.fail(ErrStopped)
		default:
			return
		}
	}
}

func (s *Supervisor) count(cmd *Command, result string) {
	s.metrics.Commands.With("command", cmd.Name, "result", result).Add(1)
}

// closeSession closes the mailbox and logs out, ignoring both errors.
func closeSession(sess types.Session) {
	_ = sess.Close()
	_ = sess.Logout()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
