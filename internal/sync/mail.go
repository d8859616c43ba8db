package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	"github.com/Philanthropists/imapfeed/internal/handler"
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/metrics"
)

const DefaultFilter = "(UNSEEN)"

// Mailbox is the part of the session gateway that ingestion needs.
type Mailbox interface {
	Fetcher
	Search(ctx context.Context, filter string) ([]types.UID, error)
	MarkSeen(ctx context.Context, uid types.UID) error
}

// HandlerError is returned when a part handler fails. It ends the poll
// loop; the message it happened on stays unseen.
type HandlerError struct {
	UID         types.UID
	Path        string
	ContentType string
	Err         error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s part %s of message %d: %v", e.ContentType, e.Path, e.UID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Summary counts what one ingest pass did.
type Summary struct {
	Messages int
	Parts    int
	Handled  int
}

type Ingester struct {
	mailbox  Mailbox
	walker   *Walker
	handlers *handler.Registry
	filter   string
	log      logger.Logger
	metrics  *metrics.IngestMetrics
}

func NewIngester(mailbox Mailbox, handlers *handler.Registry, filter string, m *metrics.Metrics) *Ingester {
	if filter == "" {
		filter = DefaultFilter
	}
	if m == nil {
		m = metrics.Discard()
	}

	return &Ingester{
		mailbox:  mailbox,
		walker:   NewWalker(mailbox),
		handlers: handlers,
		filter:   filter,
		log:      logger.GetLogger().Named("ingest"),
		metrics:  m.Ingest,
	}
}

// Ingest searches for matching messages and processes each of them in UID
// order.
func (in *Ingester) Ingest(ctx context.Context) (Summary, error) {
	var summary Summary

	uids, err := in.mailbox.Search(ctx, in.filter)
	if err != nil {
		return summary, fmt.Errorf("searching %s: %w", in.filter, err)
	}

	in.log.Debugw("Search finished",
		"filter", in.filter,
		"messages", len(uids),
	)

	for _, uid := range uids {
		parts, handled, err := in.IngestMessage(ctx, uid)
		summary.Parts += parts
		summary.Handled += handled
		if err != nil {
			return summary, err
		}
		summary.Messages++
	}

	in.metrics.Passes.Add(1)

	return summary, nil
}

// IngestMessage walks message uid, dispatches its parts and marks it seen.
// It reports how many parts were found and how many reached a handler.
func (in *Ingester) IngestMessage(ctx context.Context, uid types.UID) (parts, handled int, err error) {
	leaves, err := in.walker.Walk(ctx, uid)
	if err != nil {
		return 0, 0, fmt.Errorf("walking message %d: %w", uid, err)
	}

	if len(leaves) > 0 {
		subject, from := handler.Describe(leaves[0].Headers[0])

		in.log.Infow("Handling mail",
			"uid", uid,
			"subject", subject,
			"from", from,
			"parts", len(leaves),
		)

		handled, err = in.dispatch(ctx, uid, leaves)
		if err != nil {
			return len(leaves), handled, err
		}

		in.log.Infow("Done with mail",
			"uid", uid,
			"subject", subject,
			"from", from,
		)
	}

	if err := in.mailbox.MarkSeen(ctx, uid); err != nil {
		return len(leaves), handled, fmt.Errorf("marking message %d seen: %w", uid, err)
	}
	in.metrics.Messages.Add(1)

	return len(leaves), handled, nil
}

func (in *Ingester) dispatch(ctx context.Context, uid types.UID, leaves []*Leaf) (int, error) {
	handled := 0

	for _, leaf := range leaves {
		contentType := leaf.ContentType()

		h, ok := in.handlers.Lookup(contentType)
		in.metrics.Parts.With("content_type", contentType, "handled", strconv.FormatBool(ok)).Add(1)
		if !ok {
			in.log.Debugw("No handler for part",
				"uid", uid,
				"path", leaf.Path,
				"content_type", contentType,
			)
			continue
		}

		body, err := leaf.Body(ctx)
		if err != nil {
			return handled, fmt.Errorf("fetching part %s of message %d: %w", leaf.Path, uid, err)
		}

		partCtx := handler.WithPart(ctx, handler.PartRef{UID: uid, Path: leaf.Path})
		stop, err := h.Handle(partCtx, leaf.Headers, body)
		handled++
		if err != nil {
			return handled, &HandlerError{
				UID:         uid,
				Path:        leaf.Path,
				ContentType: contentType,
				Err:         err,
			}
		}

		if stop {
			in.log.Debugw("Handler skipped remaining parts",
				"uid", uid,
				"path", leaf.Path,
			)
			return handled, nil
		}
	}

	return handled, nil
}
