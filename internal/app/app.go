// Package app assembles a feed bot from a loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/Philanthropists/imapfeed/internal/config"
	"github.com/Philanthropists/imapfeed/internal/credential"
	"github.com/Philanthropists/imapfeed/internal/datasource/imap"
	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	"github.com/Philanthropists/imapfeed/internal/dynamodb"
	"github.com/Philanthropists/imapfeed/internal/events"
	"github.com/Philanthropists/imapfeed/internal/handler"
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/metrics"
	"github.com/Philanthropists/imapfeed/internal/session"
	"github.com/Philanthropists/imapfeed/internal/store"
	"github.com/Philanthropists/imapfeed/internal/sync"
	synctypes "github.com/Philanthropists/imapfeed/internal/sync/types"
	"github.com/Philanthropists/imapfeed/internal/twilio"
	"golang.org/x/oauth2"
)

type Options struct {
	// Prompter is asked for the mail password when neither the config nor
	// the keyring has one. Nil disables prompting.
	Prompter credential.Prompter
	// Credentials defaults to the system keyring.
	Credentials credential.Store
	Metrics     *metrics.Metrics
}

// Bot is a ready to run feed bot plus the resources it holds.
type Bot struct {
	*sync.Bot

	closers []func() error
}

func (b *Bot) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Release closes b, logging a failure instead of returning it.
func (b *Bot) Release(log logger.Logger) {
	if err := b.Close(); err != nil {
		log.Warnw("Failed to release resources", "error", err)
	}
}

func Build(ctx context.Context, cfg *config.Config, opts Options) (*Bot, error) {
	log := logger.GetLogger()

	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}

	dialer, err := newDialer(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	bot := &Bot{}

	sink, err := newSink(ctx, cfg.Sink, bot)
	if err != nil {
		_ = bot.Close()
		return nil, err
	}
	sink = events.Counted(sink, opts.Metrics.Ingest.Events)

	var notifier synctypes.Notifier
	if cfg.Twilio.Enabled() {
		client, err := twilio.NewClient(cfg.Twilio.AccountSid, cfg.Twilio.AuthToken)
		if err != nil {
			_ = bot.Close()
			return nil, fmt.Errorf("creating twilio client: %w", err)
		}
		notifier = twilio.NewNotifier(client, cfg.Twilio.From, cfg.Twilio.To)
	}

	botOpts := synctypes.Options{
		Filter:       cfg.Filter,
		PollInterval: cfg.PollEvery(),
		NoopInterval: cfg.NoopEvery(),
		Session: session.Config{
			MinDelay:       cfg.MinBackoff(),
			MaxDelay:       cfg.MaxBackoff(),
			CommandTimeout: cfg.CommandDeadline(),
		},
	}

	bot.Bot = sync.New(dialer, handler.Defaults(sink), botOpts, notifier, opts.Metrics)

	log.Infow("Feed bot configured",
		"server", cfg.MailServer,
		"port", cfg.MailPort,
		"mailbox", cfg.MailBox,
		"sink", cfg.Sink.Type,
		"notifications", notifier != nil,
	)

	return bot, nil
}

func newDialer(ctx context.Context, cfg *config.Config, opts Options) (types.Dialer, error) {
	imapCfg := imap.Config{
		Server:   cfg.MailServer,
		Port:     cfg.MailPort,
		Username: cfg.MailUser,
		Mailbox:  types.Mailbox(cfg.MailBox),
		TLS:      cfg.MailTLS,
		Debug:    cfg.MailDebug,
	}

	if cfg.OAuth2.Enabled() {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.OAuth2.TokenURL},
		}
		imapCfg.TokenSource = oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.OAuth2.RefreshToken})
		return imap.NewDialer(imapCfg), nil
	}

	creds := opts.Credentials
	if creds == nil {
		creds = credential.Keyring()
	}

	password, err := credential.ResolvePassword(cfg.MailPassword, cfg.MailUser, cfg.MailServer, creds, opts.Prompter)
	if err != nil {
		return nil, err
	}
	imapCfg.Password = password

	return imap.NewDialer(imapCfg), nil
}

// newSink builds every configured sink. More than one sink fans each event
// out to all of them, in configuration order.
func newSink(ctx context.Context, cfg config.SinkConfig, bot *Bot) (events.Sink, error) {
	var sinks []events.Sink
	for _, sinkType := range cfg.Types() {
		sink, err := openSink(ctx, sinkType, cfg, bot)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	return events.Multi(sinks...), nil
}

func openSink(ctx context.Context, sinkType string, cfg config.SinkConfig, bot *Bot) (events.Sink, error) {
	switch sinkType {
	case "sqlite":
		db, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		bot.closers = append(bot.closers, db.Close)
		return db, nil
	case "dynamodb":
		api, err := newDynamoDBClient(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return dynamodb.NewSink(api, cfg.Table), nil
	case "log":
		return events.NewLogSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", sinkType)
	}
}
