package handler

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Philanthropists/imapfeed/internal/events"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(t *testing.T, raw string) mail.Header {
	t.Helper()

	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw + "\r\n")))
	require.NoError(t, err)

	var mh mail.Header
	mh.Header.Header = h
	return mh
}

type memorySink struct {
	events []events.Event
	err    error
}

func (s *memorySink) Emit(_ context.Context, event events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"text/plain", "text_plain"},
		{"TEXT/HTML", "text_html"},
		{"application/ms-tnef", "application_ms__tnef"},
		{"application/vnd.ms-excel", "application_vnd_ms__excel"},
		{" image/svg+xml ", "image_svg_xml"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	plain := Func(func(context.Context, []mail.Header, io.Reader) (bool, error) { return false, nil })
	fallback := Func(func(context.Context, []mail.Header, io.Reader) (bool, error) { return true, nil })

	r := NewRegistry()
	r.Register("Text/Plain", plain)

	_, ok := r.Lookup("text/plain")
	assert.True(t, ok)

	_, ok = r.Lookup("image/png")
	assert.False(t, ok)

	r.SetFallback(fallback)
	h, ok := r.Lookup("image/png")
	require.True(t, ok)
	stop, err := h.Handle(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.True(t, stop)
}

func TestContentTypeDefaults(t *testing.T) {
	assert.Equal(t, "text/plain", ContentType(header(t, "Subject: x\r\n")))
	assert.Equal(t, "text/plain", ContentType(header(t, "Content-Type: ;;;\r\n")))
	assert.Equal(t, "text/html", ContentType(header(t, "Content-Type: TEXT/HTML; charset=utf-8\r\n")))
	assert.Equal(t, "multipart", MainType(header(t, "Content-Type: multipart/mixed; boundary=x\r\n")))
}

func TestDescribe(t *testing.T) {
	subject, from := Describe(header(t, "Subject: =?utf-8?q?Caf=C3=A9?=\r\nFrom: Bob <bob@example.com>\r\n"))
	assert.Equal(t, "Café", subject)
	assert.Contains(t, from, "bob@example.com")

	subject, from = Describe(header(t, "X-Empty: 1\r\n"))
	assert.Equal(t, "<no subject>", subject)
	assert.Equal(t, "<unknown sender>", from)
}

func TestTextHandlerEmitsDecodedText(t *testing.T) {
	sink := &memorySink{}
	headers := []mail.Header{
		header(t, "Subject: Weekly report\r\nFrom: alice@example.com\r\nMessage-Id: <42@example.com>\r\n"),
		header(t, "Content-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: quoted-printable\r\n"),
	}

	stop, err := Text(sink).Handle(context.Background(), headers, strings.NewReader("caf=C3=A9 ok"))
	require.NoError(t, err)
	assert.False(t, stop)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, TypeText, event.Type)
	assert.Equal(t, events.Source, event.Source)
	assert.NoError(t, event.Validate())
	assert.Equal(t, "café ok", event.Payload.Data["text"])
	assert.Equal(t, false, event.Payload.Data["truncated"])
	assert.Equal(t, "42@example.com", event.Payload.Data["message_id"])
	assert.Equal(t, "Weekly report", event.Payload.Data["subject"])
}

func TestTextHandlerTruncates(t *testing.T) {
	sink := &memorySink{}
	headers := []mail.Header{header(t, "Subject: big\r\n"), header(t, "Content-Type: text/plain\r\n")}

	_, err := Text(sink).Handle(context.Background(), headers, strings.NewReader(strings.Repeat("a", maxTextBytes+10)))
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Len(t, sink.events[0].Payload.Data["text"], maxTextBytes)
	assert.Equal(t, true, sink.events[0].Payload.Data["truncated"])
}

func TestPartHandlerHashesContent(t *testing.T) {
	sink := &memorySink{}
	headers := []mail.Header{
		header(t, "Subject: invoice\r\n"),
		header(t, "Content-Type: application/pdf\r\nContent-Disposition: attachment; filename=invoice.pdf\r\nContent-Transfer-Encoding: base64\r\n"),
	}

	_, err := Part(sink).Handle(context.Background(), headers, strings.NewReader("aGVsbG8="))
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	data := sink.events[0].Payload.Data
	assert.Equal(t, TypePart, sink.events[0].Type)
	assert.Equal(t, int64(5), data["size"])
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", data["sha256"])
	assert.Equal(t, "invoice.pdf", data["filename"])
}

func TestHandlerEventIDFollowsPart(t *testing.T) {
	sink := &memorySink{}
	headers := []mail.Header{
		header(t, "Subject: x\r\nMessage-Id: <7@example.com>\r\n"),
		header(t, "Content-Type: text/plain\r\n"),
	}
	handle := func(ctx context.Context) string {
		_, err := Text(sink).Handle(ctx, headers, strings.NewReader("x"))
		require.NoError(t, err)
		return sink.events[len(sink.events)-1].ID
	}

	part := WithPart(context.Background(), PartRef{UID: 7, Path: "2"})
	first := handle(part)
	assert.Equal(t, first, handle(part))
	assert.NotEqual(t, first, handle(WithPart(context.Background(), PartRef{UID: 7, Path: "1"})))
	assert.NotEqual(t, handle(context.Background()), handle(context.Background()))

	ref, ok := PartFrom(part)
	require.True(t, ok)
	assert.Equal(t, "7@example.com|7|2", ref.Key("7@example.com"))
}

func TestHandlerPropagatesSinkFailure(t *testing.T) {
	failure := errors.New("sink down")
	headers := []mail.Header{header(t, "Subject: x\r\n"), header(t, "Content-Type: text/plain\r\n")}

	_, err := Text(&memorySink{err: failure}).Handle(context.Background(), headers, strings.NewReader("x"))
	assert.ErrorIs(t, err, failure)
}

func TestDefaults(t *testing.T) {
	r := Defaults(&memorySink{})

	for _, contentType := range []string{"text/plain", "text/html", "application/zip"} {
		_, ok := r.Lookup(contentType)
		assert.True(t, ok, contentType)
	}
}
