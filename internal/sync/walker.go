package sync

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	gosync "sync"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	"github.com/Philanthropists/imapfeed/internal/handler"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

type Fetcher interface {
	Fetch(ctx context.Context, uid types.UID, section string) ([]types.FetchRecord, error)
}

// Leaf is a non multipart part of a message. Its body is fetched on the
// first call to Body and reused afterwards.
type Leaf struct {
	Path    string
	Headers []mail.Header

	fetch func(ctx context.Context) ([]byte, error)

	once gosync.Once
	body []byte
	err  error
}

func (l *Leaf) ContentType() string {
	return handler.ContentType(l.Headers[len(l.Headers)-1])
}

func (l *Leaf) Body(ctx context.Context) (io.Reader, error) {
	l.once.Do(func() {
		l.body, l.err = l.fetch(ctx)
	})
	if l.err != nil {
		return nil, l.err
	}
	return bytes.NewReader(l.body), nil
}

// Walker discovers the part tree of a message with header only fetches.
type Walker struct {
	fetcher Fetcher
}

func NewWalker(fetcher Fetcher) *Walker {
	return &Walker{fetcher: fetcher}
}

// GetHeader fetches and parses the header at section. A nil header with a
// nil error means the section does not exist.
func (w *Walker) GetHeader(ctx context.Context, uid types.UID, section string) (*mail.Header, error) {
	records, err := w.fetcher.Fetch(ctx, uid, section)
	if err != nil {
		return nil, err
	}

	data := findLiteral(records, uid, section, true)
	if data == nil {
		return nil, nil
	}

	h, err := parseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("parsing header %s of message %d: %w", section, uid, err)
	}

	return h, nil
}

// Walk returns the leaves of message uid in depth first order, with paths
// "1", "1.1", "1.2", "2" and so on. A message that no longer exists has no
// leaves.
func (w *Walker) Walk(ctx context.Context, uid types.UID) ([]*Leaf, error) {
	root, err := w.GetHeader(ctx, uid, "HEADER")
	if err != nil || root == nil {
		return nil, err
	}

	var leaves []*Leaf
	if err := w.walk(ctx, uid, nil, []mail.Header{*root}, &leaves); err != nil {
		return nil, err
	}

	return leaves, nil
}

func (w *Walker) walk(ctx context.Context, uid types.UID, parent []int, headers []mail.Header, leaves *[]*Leaf) error {
	path := append(append(make([]int, 0, len(parent)+1), parent...), 0)

	for {
		path[len(path)-1]++
		pathStr := formatPath(path)

		header, err := w.GetHeader(ctx, uid, pathStr+".MIME")
		if err != nil {
			return err
		}
		if header == nil {
			return nil
		}

		chain := append(append(make([]mail.Header, 0, len(headers)+1), headers...), *header)

		if handler.MainType(*header) == "multipart" {
			if err := w.walk(ctx, uid, path, chain, leaves); err != nil {
				return err
			}
			continue
		}

		*leaves = append(*leaves, &Leaf{
			Path:    pathStr,
			Headers: chain,
			fetch:   w.bodyFetcher(uid, pathStr),
		})
	}
}

func (w *Walker) bodyFetcher(uid types.UID, path string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		records, err := w.fetcher.Fetch(ctx, uid, path)
		if err != nil {
			return nil, err
		}

		data := findLiteral(records, uid, path, false)
		if data == nil {
			data = []byte{}
		}
		return data, nil
	}
}

// findLiteral returns the first literal of records that belongs to uid and
// section. Section names compare case insensitively.
func findLiteral(records []types.FetchRecord, uid types.UID, section string, nonEmpty bool) []byte {
	for _, record := range records {
		if record.UID != uid || !strings.EqualFold(record.Section, section) {
			continue
		}
		if record.Literal == nil || (nonEmpty && len(record.Literal) == 0) {
			continue
		}
		return record.Literal
	}
	return nil
}

func parseHeader(data []byte) (*mail.Header, error) {
	// Some servers drop the blank line that ends a header block.
	if !bytes.HasSuffix(data, []byte("\n\n")) && !bytes.HasSuffix(data, []byte("\r\n\r\n")) {
		data = append(append(make([]byte, 0, len(data)+4), data...), "\r\n\r\n"...)
	}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}

	return &mail.Header{Header: message.Header{Header: h}}, nil
}

func formatPath(path []int) string {
	parts := make([]string, len(path))
	for i, index := range path {
		parts[i] = strconv.Itoa(index)
	}
	return strings.Join(parts, ".")
}
