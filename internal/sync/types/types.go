package types

import (
	"time"

	"github.com/Philanthropists/imapfeed/internal/session"
)

type Options struct {
	// Filter is the UID SEARCH expression selecting messages to ingest.
	Filter       string
	PollInterval time.Duration
	NoopInterval time.Duration

	Session session.Config
}

// Notifier delivers short operator alerts, e.g. by SMS.
type Notifier interface {
	Notify(msg string) error
}
