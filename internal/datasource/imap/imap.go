package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Philanthropists/imapfeed/internal/datasource/imap/types"
	"github.com/Philanthropists/imapfeed/internal/logger"
	_imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

const defaultDialTimeout = 30 * time.Second

type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Mailbox  types.Mailbox

	// TLS selects implicit TLS (port 993 style). When false the connection
	// is plain text, which is only meant for local test servers.
	TLS         bool
	TLSConfig   *tls.Config
	DialTimeout time.Duration

	// TokenSource switches authentication from LOGIN to OAUTHBEARER.
	TokenSource oauth2.TokenSource

	// Debug logs the raw protocol exchange, with credentials redacted.
	Debug bool
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

func NewDialer(cfg Config) types.Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}

	return &dialerImpl{cfg: cfg, log: logger.GetLogger().Named("imap")}
}

type dialerImpl struct {
	cfg Config
	log logger.Logger
}

// Dial connects, authenticates and selects the configured mailbox. A mailbox
// that cannot be selected is reported as a transport failure so that the
// caller reconnects later.
func (d *dialerImpl) Dial(ctx context.Context) (types.Session, error) {
	addr := d.cfg.addr()
	d.log.Infow("Connecting to IMAP server",
		"server", d.cfg.Server,
		"port", d.cfg.Port,
	)

	netDialer := &net.Dialer{Timeout: d.cfg.DialTimeout}

	var emailClient *client.Client
	var err error
	if d.cfg.TLS {
		emailClient, err = client.DialWithDialerTLS(netDialer, addr, d.cfg.TLSConfig)
	} else {
		emailClient, err = client.DialWithDialer(netDialer, addr)
	}
	if err != nil {
		return nil, &types.TransportError{Op: "dial", Err: err}
	}

	if d.cfg.Debug {
		emailClient.SetDebug(&debugWriter{log: d.log})
	}

	// Dropping the connection unblocks a login or select that outlives ctx.
	stop := context.AfterFunc(ctx, func() { _ = emailClient.Terminate() })
	defer stop()

	d.log.Infow("Logging in to IMAP server",
		"server", d.cfg.Server,
		"port", d.cfg.Port,
	)
	if err := d.authenticate(emailClient); err != nil {
		_ = emailClient.Logout()
		return nil, err
	}

	if err := selectMailbox(emailClient, string(d.cfg.Mailbox)); err != nil {
		_ = emailClient.Logout()
		return nil, &types.TransportError{
			Op:  "select",
			Err: fmt.Errorf("mailbox %q: %v", d.cfg.Mailbox, err),
		}
	}

	if !stop() {
		return nil, &types.TransportError{Op: "dial", Err: ctx.Err()}
	}

	d.log.Infow("Logged in to IMAP server",
		"server", d.cfg.Server,
		"port", d.cfg.Port,
		"mailbox", d.cfg.Mailbox,
	)

	return &sessionImpl{client: emailClient}, nil
}

func (d *dialerImpl) authenticate(c *client.Client) error {
	if d.cfg.TokenSource == nil {
		cmd := &commands.Login{Username: d.cfg.Username, Password: d.cfg.Password}
		if _, err := execute(c, "login", cmd, nil); err != nil {
			return err
		}
		c.SetState(_imap.AuthenticatedState, nil)
		return nil
	}

	token, err := d.cfg.TokenSource.Token()
	if err != nil {
		return &types.TransportError{Op: "oauth2 token", Err: err}
	}

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: d.cfg.Username,
		Token:    token.AccessToken,
		Host:     d.cfg.Server,
		Port:     d.cfg.Port,
	})

	mech, ir, err := saslClient.Start()
	if err != nil {
		return &types.ProtocolError{Op: "authenticate", Err: err}
	}

	irOk, err := c.Support("SASL-IR")
	if err != nil {
		return &types.TransportError{Op: "capability", Err: err}
	}

	cmd := &commands.Authenticate{Mechanism: mech}
	res := &responses.Authenticate{
		Mechanism:       saslClient,
		InitialResponse: ir,
		RepliesCh:       make(chan []byte, 10),
	}
	if irOk {
		cmd.InitialResponse = ir
		res.InitialResponse = nil
	}

	if _, err := execute(c, "authenticate", cmd, res); err != nil {
		return err
	}
	c.SetState(_imap.AuthenticatedState, nil)

	return nil
}

func selectMailbox(c *client.Client, name string) error {
	mbox := &_imap.MailboxStatus{Name: name, Items: make(map[_imap.StatusItem]interface{})}

	status, err := execute(c, "select", &commands.Select{Mailbox: name}, &responses.Select{Mailbox: mbox})
	if err != nil {
		return err
	}

	mbox.ReadOnly = status.Code == _imap.CodeReadOnly
	c.SetState(_imap.SelectedState, mbox)

	return nil
}

type sessionImpl struct {
	client *client.Client
}

func (s *sessionImpl) Noop() error {
	_, err := execute(s.client, "noop", &commands.Noop{}, nil)
	return err
}

// Search runs UID SEARCH with filter written to the wire verbatim, so any
// search expression the server understands can be configured.
func (s *sessionImpl) Search(filter string) ([]types.UID, error) {
	res := new(responses.Search)
	if _, err := execute(s.client, "search", &commands.Uid{Cmd: rawSearch(filter)}, res); err != nil {
		return nil, err
	}

	uids := make([]types.UID, 0, len(res.Ids))
	for _, id := range res.Ids {
		uids = append(uids, types.UID(id))
	}

	return uids, nil
}

func (s *sessionImpl) Fetch(uid types.UID, section string) ([]types.FetchRecord, error) {
	name, err := _imap.ParseBodySectionName(_imap.FetchItem("BODY.PEEK[" + section + "]"))
	if err != nil {
		return nil, &types.ProtocolError{Op: "fetch", Err: err}
	}

	seqset := new(_imap.SeqSet)
	seqset.AddNum(uint32(uid))

	messages := make(chan *_imap.Message, 10)
	collected := make(chan []types.FetchRecord, 1)
	go func() {
		var records []types.FetchRecord
		for msg := range messages {
			records = append(records, toRecords(msg)...)
		}
		collected <- records
	}()

	cmd := &commands.Uid{Cmd: &commands.Fetch{
		SeqSet: seqset,
		Items:  []_imap.FetchItem{_imap.FetchUid, name.FetchItem()},
	}}
	_, err = execute(s.client, "fetch", cmd, &responses.Fetch{Messages: messages, SeqSet: seqset, Uid: true})
	close(messages)
	records := <-collected
	if err != nil {
		return nil, err
	}

	return records, nil
}

func toRecords(msg *_imap.Message) []types.FetchRecord {
	records := make([]types.FetchRecord, 0, len(msg.Body))
	for sectionName, literal := range msg.Body {
		record := types.FetchRecord{
			SeqNum:  msg.SeqNum,
			UID:     types.UID(msg.Uid),
			Section: sectionString(sectionName),
		}
		if literal != nil {
			if b, err := io.ReadAll(literal); err == nil {
				record.Literal = b
			}
		}
		records = append(records, record)
	}
	return records
}

// Store always asks for the silent form of the item, the updated flags are
// of no interest to the caller.
func (s *sessionImpl) Store(uid types.UID, op string, flags []string) error {
	seqset := new(_imap.SeqSet)
	seqset.AddNum(uint32(uid))

	item := _imap.StoreItem(op)
	if flagsOp, _, err := _imap.ParseFlagsOp(item); err == nil {
		item = _imap.FormatFlagsOp(flagsOp, true)
	}

	values := make([]interface{}, 0, len(flags))
	for _, flag := range flags {
		values = append(values, _imap.RawString(flag))
	}

	cmd := &commands.Uid{Cmd: &commands.Store{SeqSet: seqset, Item: item, Value: values}}
	_, err := execute(s.client, "store", cmd, nil)
	return err
}

func (s *sessionImpl) Close() error {
	if _, err := execute(s.client, "close", &commands.Close{}, nil); err != nil {
		return err
	}
	s.client.SetState(_imap.AuthenticatedState, nil)
	return nil
}

func (s *sessionImpl) Logout() error {
	if err := s.client.Logout(); err != nil {
		return &types.TransportError{Op: "logout", Err: err}
	}
	return nil
}

type rawSearch string

func (r rawSearch) Command() *_imap.Command {
	return &_imap.Command{
		Name:      "SEARCH",
		Arguments: []interface{}{_imap.RawString(r)},
	}
}

// sectionString renders a body section name the way it appears between
// the brackets of a FETCH response, e.g. "HEADER" or "1.2.MIME".
func sectionString(name *_imap.BodySectionName) string {
	if name == nil {
		return ""
	}

	parts := make([]string, 0, len(name.Path)+1)
	for _, index := range name.Path {
		parts = append(parts, strconv.Itoa(index))
	}
	if name.Specifier != _imap.EntireSpecifier {
		parts = append(parts, string(name.Specifier))
	}

	return strings.Join(parts, ".")
}

// execute issues cmd and splits the outcome: a failed exchange means the
// connection can no longer be trusted, while a tagged NO or BAD is the
// server rejecting the command on a healthy connection.
func execute(c *client.Client, op string, cmd _imap.Commander, res responses.Handler) (*_imap.StatusResp, error) {
	status, err := c.Execute(cmd, res)
	if err != nil {
		return nil, &types.TransportError{Op: op, Err: err}
	}
	if status.Type != _imap.StatusRespOk {
		return status, &types.ProtocolError{Op: op, Err: fmt.Errorf("%s %s", status.Type, status.Info)}
	}
	return status, nil
}

type debugWriter struct {
	log logger.Logger
}

func (w *debugWriter) Write(p []byte) (int, error) {
	w.log.Debugw("IMAP protocol", "data", redact(string(p)))
	return len(p), nil
}

func redact(line string) string {
	line = strings.TrimSpace(line)
	upper := strings.ToUpper(line)
	if strings.Contains(upper, " LOGIN ") || strings.Contains(upper, " AUTHENTICATE ") {
		return "[credentials redacted]"
	}
	return line
}
