package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/Philanthropists/imapfeed/internal/events"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

const (
	TypeText = "mail.text"
	TypePart = "mail.part"

	maxTextBytes = 64 << 10
)

// Text emits a mail.text event carrying the decoded part content, truncated
// to 64 KiB.
func Text(sink events.Sink) Handler {
	return Func(func(ctx context.Context, headers []mail.Header, body io.Reader) (bool, error) {
		content, err := decode(headers, body)
		if err != nil {
			return false, err
		}

		raw, err := io.ReadAll(io.LimitReader(content, maxTextBytes+1))
		if err != nil {
			return false, fmt.Errorf("reading text part: %w", err)
		}

		truncated := len(raw) > maxTextBytes
		if truncated {
			raw = raw[:maxTextBytes]
		}

		data := describe(headers)
		data["text"] = string(raw)
		data["truncated"] = truncated

		return false, sink.Emit(ctx, newEvent(ctx, TypeText, data))
	})
}

// Part emits a mail.part event with the size and SHA-256 of a part. The
// content itself is not kept.
func Part(sink events.Sink) Handler {
	return Func(func(ctx context.Context, headers []mail.Header, body io.Reader) (bool, error) {
		content, err := decode(headers, body)
		if err != nil {
			return false, err
		}

		hash := sha256.New()
		size, err := io.Copy(hash, content)
		if err != nil {
			return false, fmt.Errorf("reading part: %w", err)
		}

		data := describe(headers)
		data["size"] = size
		data["sha256"] = hex.EncodeToString(hash.Sum(nil))
		if name := Filename(headers[len(headers)-1]); name != "" {
			data["filename"] = name
		}

		return false, sink.Emit(ctx, newEvent(ctx, TypePart, data))
	})
}

// Defaults returns a registry that turns text bodies into mail.text events
// and every other part into a mail.part event.
func Defaults(sink events.Sink) *Registry {
	r := NewRegistry()
	r.Register("text/plain", Text(sink))
	r.Register("text/html", Text(sink))
	r.SetFallback(Part(sink))
	return r
}

// decode undoes the part's transfer encoding and charset.
func decode(headers []mail.Header, body io.Reader) (io.Reader, error) {
	if body == nil {
		body = strings.NewReader("")
	}

	// Unknown charsets and encodings still yield an entity whose body is
	// passed through undecoded.
	entity, err := message.New(headers[len(headers)-1].Header, body)
	if entity == nil {
		return nil, fmt.Errorf("decoding part: %w", err)
	}

	return entity.Body, nil
}

func describe(headers []mail.Header) map[string]interface{} {
	subject, from := Describe(headers[0])

	return map[string]interface{}{
		"subject":      subject,
		"from":         from,
		"message_id":   strings.Trim(headers[0].Get("Message-Id"), "<> "),
		"content_type": ContentType(headers[len(headers)-1]),
	}
}

// newEvent keys the event on the part being handled, when known, so that a
// message handled twice produces the same event ids.
func newEvent(ctx context.Context, eventType string, data map[string]interface{}) events.Event {
	ref, ok := PartFrom(ctx)
	if !ok {
		return events.New(eventType, summary(data), data)
	}

	messageID, _ := data["message_id"].(string)
	return events.NewKeyed(ref.Key(messageID), eventType, summary(data), data)
}

func summary(data map[string]interface{}) string {
	return fmt.Sprintf("%s part of %q from %s", data["content_type"], data["subject"], data["from"])
}
