package session

import (
	"context"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
)

// Gateway is how everything outside the supervisor talks to the IMAP
// session. It is safe for concurrent use.
type Gateway struct {
	queue   chan<- *Command
	stopped <-chan struct{}
}

// Call queues op and blocks until the supervisor has run it. If ctx ends
// first the command is marked abandoned so the supervisor skips it.
func (g *Gateway) Call(ctx context.Context, name string, op Op) (interface{}, error) {
	cmd := &Command{Name: name, Op: op, slot: newSlot()}

	select {
	case g.queue <- cmd:
	case <-g.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-cmd.slot.done:
		return cmd.slot.result()
	case <-ctx.Done():
		if !cmd.slot.cancel() {
			return cmd.slot.result()
		}
		return nil, ctx.Err()
	case <-g.stopped:
		cmd.slot.fail(ErrStopped)
		return cmd.slot.result()
	}
}

func (g *Gateway) Noop(ctx context.Context) error {
	_, err := g.Call(ctx, "NOOP", func(s types.Session) (interface{}, error) {
		return nil, s.Noop()
	})
	return err
}

func (g *Gateway) Search(ctx context.Context, filter string) ([]types.UID, error) {
	value, err := g.Call(ctx, "UID SEARCH", func(s types.Session) (interface{}, error) {
		return s.Search(filter)
	})
	if err != nil {
		return nil, err
	}

	uids, _ := value.([]types.UID)
	return uids, nil
}

func (g *Gateway) Fetch(ctx context.Context, uid types.UID, section string) ([]types.FetchRecord, error) {
	value, err := g.Call(ctx, "UID FETCH", func(s types.Session) (interface{}, error) {
		return s.Fetch(uid, section)
	})
	if err != nil {
		return nil, err
	}

	records, _ := value.([]types.FetchRecord)
	return records, nil
}

func (g *Gateway) Store(ctx context.Context, uid types.UID, op string, flags []string) error {
	_, err := g.Call(ctx, "UID STORE", func(s types.Session) (interface{}, error) {
		return nil, s.Store(uid, op, flags)
	})
	return err
}

// MarkSeen adds the \Seen flag to uid.
func (g *Gateway) MarkSeen(ctx context.Context, uid types.UID) error {
	return g.Store(ctx, uid, "+FLAGS", []string{`\Seen`})
}
