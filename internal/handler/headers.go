package handler

import (
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const defaultContentType = "text/plain"

// ContentType returns the lower case type/subtype of h, defaulting to
// text/plain when the header is missing or unparsable.
func ContentType(h mail.Header) string {
	if h.Get("Content-Type") == "" {
		return defaultContentType
	}

	t, _, err := h.ContentType()
	if err != nil || t == "" {
		return defaultContentType
	}

	return strings.ToLower(t)
}

// MainType returns the part before the slash, e.g. "multipart".
func MainType(h mail.Header) string {
	t := ContentType(h)
	if i := strings.IndexByte(t, '/'); i >= 0 {
		return t[:i]
	}
	return t
}

// Describe returns the decoded subject and sender of a message header.
func Describe(h mail.Header) (subject, from string) {
	subject, err := h.Subject()
	if err != nil || subject == "" {
		subject = h.Get("Subject")
	}
	if subject == "" {
		subject = "<no subject>"
	}

	from = h.Get("From")
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].String()
	}
	if from == "" {
		from = "<unknown sender>"
	}

	return subject, from
}

// Filename returns the file name announced by a part header, if any.
func Filename(h mail.Header) string {
	if _, params, err := h.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	if _, params, err := h.ContentType(); err == nil {
		return params["name"]
	}
	return ""
}
