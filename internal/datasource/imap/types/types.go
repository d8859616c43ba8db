package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

type Mailbox string

type UID uint32

// FetchRecord is one body section returned by a UID FETCH.
type FetchRecord struct {
	SeqNum  uint32
	UID     UID
	Section string
	Literal []byte
}

// Session is an authenticated connection with a selected mailbox.
// Commands must be issued one at a time. Close and Logout are the exception:
// they may run while an abandoned command is still blocked, and must make it
// return.
type Session interface {
	Noop() error
	Search(filter string) ([]UID, error)
	Fetch(uid UID, section string) ([]FetchRecord, error)
	Store(uid UID, op string, flags []string) error
	Close() error
	Logout() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}

// TransportError is a connection level fault. The session that produced it
// must be discarded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("imap %s: connection failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the server rejected a well formed command.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("imap %s: rejected: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err should tear down the session.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
