package imap

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs an in-memory IMAP server. Its single user is
// "username"/"password" and INBOX holds one seen message with UID 6.
func startServer(t *testing.T) (string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	go func() { _ = s.Serve(l) }()

	t.Cleanup(func() { _ = s.Close() })

	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return host, p
}

func dial(t *testing.T, password string) (types.Session, error) {
	host, port := startServer(t)

	return NewDialer(Config{
		Server:   host,
		Port:     port,
		Username: "username",
		Password: password,
	}).Dial(context.Background())
}

func TestDialSearchFetchStore(t *testing.T) {
	sess, err := dial(t, "password")
	require.NoError(t, err)
	defer func() { _ = sess.Logout() }()

	require.NoError(t, sess.Noop())

	uids, err := sess.Search("ALL")
	require.NoError(t, err)
	assert.Equal(t, []types.UID{6}, uids)

	uids, err = sess.Search("UNSEEN")
	require.NoError(t, err)
	assert.Empty(t, uids)

	records, err := sess.Fetch(6, "HEADER")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.UID(6), records[0].UID)
	assert.Equal(t, "HEADER", records[0].Section)
	assert.Contains(t, string(records[0].Literal), "Subject:")

	require.NoError(t, sess.Store(6, "-FLAGS", []string{_imap.SeenFlag}))

	uids, err = sess.Search("UNSEEN")
	require.NoError(t, err)
	assert.Equal(t, []types.UID{6}, uids)

	// BODY.PEEK must not set \Seen again.
	_, err = sess.Fetch(6, "HEADER")
	require.NoError(t, err)
	uids, err = sess.Search("UNSEEN")
	require.NoError(t, err)
	assert.Equal(t, []types.UID{6}, uids)

	require.NoError(t, sess.Store(6, "+FLAGS", []string{_imap.SeenFlag}))
	uids, err = sess.Search("UNSEEN")
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestSearchRejectedIsProtocolError(t *testing.T) {
	sess, err := dial(t, "password")
	require.NoError(t, err)
	defer func() { _ = sess.Logout() }()

	_, err = sess.Search("NOT-A-CRITERION")
	require.Error(t, err)
	assert.False(t, types.IsTransport(err))
}

func TestDialWrongPasswordIsProtocolError(t *testing.T) {
	_, err := dial(t, "wrong")
	require.Error(t, err)

	var protoErr *types.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
	assert.False(t, types.IsTransport(err))
}

func TestDialUnreachableIsTransportError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	_, err = NewDialer(Config{Server: "127.0.0.1", Port: addr.Port}).Dial(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
}

func TestDialMissingMailboxIsTransportError(t *testing.T) {
	host, port := startServer(t)

	_, err := NewDialer(Config{
		Server:   host,
		Port:     port,
		Username: "username",
		Password: "password",
		Mailbox:  "Archive",
	}).Dial(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
}

func TestDialGivesUpOnStalledLogin(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	// Greets, then never answers.
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("* OK IMAP4rev1 ready\r\n"))
		_, _ = io.Copy(io.Discard, conn)
	}()

	addr := l.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = NewDialer(Config{Server: "127.0.0.1", Port: addr.Port, Username: "u", Password: "p"}).Dial(ctx)
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRejectedCommandKeepsSessionUsable(t *testing.T) {
	sess, err := dial(t, "password")
	require.NoError(t, err)
	defer func() { _ = sess.Logout() }()

	err = sess.Store(6, "+BOGUS", []string{_imap.SeenFlag})
	require.Error(t, err)
	var protoErr *types.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "store", protoErr.Op)

	require.NoError(t, sess.Noop())
	require.NoError(t, sess.Close())
}

func TestSectionString(t *testing.T) {
	tests := map[string]string{
		"BODY[HEADER]":   "HEADER",
		"BODY[1.2.MIME]": "1.2.MIME",
		"BODY[1]":        "1",
		"BODY.PEEK[2.1]": "2.1",
		"BODY[]":         "",
	}

	for item, want := range tests {
		name, err := _imap.ParseBodySectionName(_imap.FetchItem(item))
		require.NoError(t, err, item)
		assert.Equal(t, want, sectionString(name), item)
	}
}

func TestDebugWriterRedactsCredentials(t *testing.T) {
	assert.Equal(t, "[credentials redacted]", redact(`a1 LOGIN "user" "secret"`))
	assert.Equal(t, "a2 NOOP", redact("a2 NOOP\r\n"))
}
