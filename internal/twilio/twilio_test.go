package twilio

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	from, to, msg string
	err           error
}

func (f *fakeClient) SendSms(from, to, msg string) (string, error) {
	f.from, f.to, f.msg = from, to, msg
	return "SM1", f.err
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("", "token")
	assert.Error(t, err)

	client, err := NewClient("AC123", "token")
	require.NoError(t, err)

	_, err = client.SendSms("", "+1", "hi")
	assert.Error(t, err)
}

func TestNotifierSendsSms(t *testing.T) {
	client := &fakeClient{}
	n := NewNotifier(client, "+15550001", "+15550002")

	require.NoError(t, n.Notify("imapfeed stopped"))
	assert.Equal(t, "+15550001", client.from)
	assert.Equal(t, "+15550002", client.to)
	assert.Equal(t, "imapfeed stopped", client.msg)
}

func TestNotifierTruncatesLongMessages(t *testing.T) {
	client := &fakeClient{}
	n := NewNotifier(client, "+1", "+2")

	require.NoError(t, n.Notify(strings.Repeat("x", 1000)))
	assert.Len(t, client.msg, maxBody)
	assert.True(t, strings.HasSuffix(client.msg, "..."))
}

func TestNotifierReturnsClientError(t *testing.T) {
	failure := errors.New("unreachable")
	n := NewNotifier(&fakeClient{err: failure}, "+1", "+2")

	assert.ErrorIs(t, n.Notify("x"), failure)
}
