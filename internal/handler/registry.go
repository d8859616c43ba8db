package handler

import (
	"context"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Handler consumes one leaf part of a message. headers runs from the
// message header to the part's own MIME header. Returning stop skips the
// remaining parts of the same message.
//
// A message whose handler fails is not marked seen and is handled again on
// the next pass, so handlers must tolerate seeing the same part twice.
type Handler interface {
	Handle(ctx context.Context, headers []mail.Header, body io.Reader) (stop bool, err error)
}

type Func func(ctx context.Context, headers []mail.Header, body io.Reader) (bool, error)

func (f Func) Handle(ctx context.Context, headers []mail.Header, body io.Reader) (bool, error) {
	return f(ctx, headers, body)
}

// Registry maps content types to handlers.
type Registry struct {
	handlers map[string]Handler
	fallback Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to contentType, e.g. "text/plain". A later registration
// for the same type replaces the earlier one.
func (r *Registry) Register(contentType string, h Handler) {
	r.handlers[Normalize(contentType)] = h
}

// SetFallback sets the handler used for content types nothing is
// registered for. nil disables the fallback.
func (r *Registry) SetFallback(h Handler) {
	r.fallback = h
}

func (r *Registry) Lookup(contentType string) (Handler, bool) {
	if h, ok := r.handlers[Normalize(contentType)]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Normalize turns a MIME type into a registry key: "text/plain" becomes
// "text_plain" and "application/ms-tnef" becomes "application_ms__tnef".
func Normalize(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	var b strings.Builder
	for _, r := range contentType {
		switch {
		case r == '-':
			b.WriteString("__")
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	return b.String()
}
