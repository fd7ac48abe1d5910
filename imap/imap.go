package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/ivdimova/inbox-triage-assistant/model"
)

const (
	DefaultMailbox      = "INBOX"
	DefaultTimeout      = 60 * time.Second
	DefaultArchiveLabel = "$Archived"
)

var (
	errSessionClosed = fmt.Errorf("%w: imap session is closed", model.ErrConnectionLost)

	headerSection = &imapv2.FetchItemBodySection{Specifier: imapv2.PartSpecifierHeader, Peek: true}
	textSection   = &imapv2.FetchItemBodySection{Specifier: imapv2.PartSpecifierText, Peek: true}
)

type Options struct {
	Host               string
	Port               int
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	Timeout            time.Duration
	ArchiveLabel       string
}

// Client holds the server settings; credentials are supplied per Connect.
type Client struct {
	opts   Options
	logger *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Mailbox == "" {
		opts.Mailbox = DefaultMailbox
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ArchiveLabel == "" {
		opts.ArchiveLabel = DefaultArchiveLabel
	}
	return &Client{opts: opts, logger: logger}, nil
}

// Session is an authenticated connection with the mailbox selected.
// It must not be used by more than one operation at a time.
type Session struct {
	opts   Options
	conn   net.Conn
	client *imapclient.Client
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Connect dials the server, logs in and selects the configured mailbox.
func (c *Client) Connect(ctx context.Context, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: credentials are empty", model.ErrAuthentication)
	}

	address := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	conn, err := c.dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial imap %s: %v", model.ErrAuthentication, address, err)
	}

	s := &Session{
		opts:   c.opts,
		conn:   conn,
		client: imapclient.New(conn, &imapclient.Options{}),
		logger: c.logger,
	}

	err = s.do(ctx, func() error {
		if err := s.client.Login(username, password).Wait(); err != nil {
			return fmt.Errorf("%w: imap login: %v", model.ErrAuthentication, err)
		}
		if _, err := s.client.Select(s.opts.Mailbox, nil).Wait(); err != nil {
			return fmt.Errorf("%w: select %s: %v", model.ErrAuthentication, s.opts.Mailbox, err)
		}
		return nil
	})
	if err != nil {
		_ = s.client.Close()
		return nil, err
	}

	if s.logger != nil {
		s.logger.Debug("imap connection established", "address", address, "user", username, "mailbox", s.opts.Mailbox, "tls", s.opts.UseTLS)
	}
	return s, nil
}

func (c *Client) dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.opts.Timeout}
	if !c.opts.UseTLS {
		return dialer.DialContext(ctx, "tcp", address)
	}
	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName:         c.opts.Host,
			InsecureSkipVerify: c.opts.InsecureSkipVerify,
		},
	}
	return tlsDialer.DialContext(ctx, "tcp", address)
}

// ListRecent returns up to limit UIDs from the mailbox, newest first.
func (s *Session) ListRecent(ctx context.Context, limit int) ([]string, error) {
	var uids []imapv2.UID
	err := s.do(ctx, func() error {
		data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("%w: uid search: %v", model.ErrFetch, err)
		}
		uids = data.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(uids)
	recent := model.Recent(uids, limit)
	ids := make([]string, 0, len(recent))
	for _, uid := range recent {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}

	if s.logger != nil {
		s.logger.Debug("imap messages listed", "mailbox", s.opts.Mailbox, "total", len(uids), "selected", len(ids))
	}
	return ids, nil
}

// FetchPayload retrieves the header and text sections of one message.
// Attachments are never downloaded beyond what the text section carries.
func (s *Session) FetchPayload(ctx context.Context, id string) (model.RawPayload, error) {
	uid, err := parseUID(id)
	if err != nil {
		return model.RawPayload{}, fmt.Errorf("%w: %v", model.ErrFetch, err)
	}

	payload := model.RawPayload{ID: id}
	err = s.do(ctx, func() error {
		cmd := s.client.Fetch(imapv2.UIDSetNum(uid), &imapv2.FetchOptions{
			UID:         true,
			BodySection: []*imapv2.FetchItemBodySection{headerSection, textSection},
		})
		msgs, err := cmd.Collect()
		if err != nil {
			return fmt.Errorf("%w: uid fetch %d: %w", model.ErrFetch, uid, err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("message %d: %w", uid, model.ErrEmptyPayload)
		}
		payload.Header = msgs[0].FindBodySection(headerSection)
		payload.Body = msgs[0].FindBodySection(textSection)
		return nil
	})
	if err != nil {
		return model.RawPayload{}, err
	}
	if payload.Empty() {
		return model.RawPayload{}, fmt.Errorf("message %d: %w", uid, model.ErrEmptyPayload)
	}
	return payload, nil
}

// Archive labels the messages, flags them deleted and expunges them from
// the selected mailbox. A failure part way leaves earlier changes applied.
func (s *Session) Archive(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	uids := make([]imapv2.UID, 0, len(ids))
	for _, id := range ids {
		uid, err := parseUID(id)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrArchive, err)
		}
		uids = append(uids, uid)
	}
	set := imapv2.UIDSetNum(uids...)

	return s.do(ctx, func() error {
		store := &imapv2.StoreFlags{
			Op:     imapv2.StoreFlagsAdd,
			Silent: true,
			Flags:  []imapv2.Flag{imapv2.Flag(s.opts.ArchiveLabel), imapv2.FlagDeleted},
		}
		if err := s.client.Store(set, store, nil).Close(); err != nil {
			return fmt.Errorf("%w: uid store: %v", model.ErrArchive, err)
		}

		var expunge *imapclient.ExpungeCommand
		if s.client.Caps().Has(imapv2.CapUIDPlus) {
			expunge = s.client.UIDExpunge(set)
		} else {
			expunge = s.client.Expunge()
		}
		if err := expunge.Close(); err != nil {
			return fmt.Errorf("%w: expunge: %v", model.ErrArchive, err)
		}

		if s.logger != nil {
			s.logger.Info("imap messages archived", "mailbox", s.opts.Mailbox, "count", len(uids), "label", s.opts.ArchiveLabel)
		}
		return nil
	})
}

// Close logs out and releases the connection. Calling it again is a no-op.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		_ = s.conn.SetDeadline(time.Now().Add(s.opts.Timeout))
		if err := s.client.Logout().Wait(); err != nil && s.logger != nil {
			s.logger.Warn("imap logout failed", "err", err)
		}
		s.closeErr = s.client.Close()
		if s.logger != nil {
			s.logger.Debug("imap connection closed", "err", s.closeErr)
		}
	})
	return s.closeErr
}

// do runs one protocol exchange under the connection timeout and tears the
// connection down if ctx is cancelled before it completes.
func (s *Session) do(ctx context.Context, fn func() error) error {
	if s.closed {
		return errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = s.client.Close()
	})
	defer stopClose()

	_ = s.conn.SetDeadline(time.Now().Add(s.opts.Timeout))
	defer func() {
		_ = s.conn.SetDeadline(time.Time{})
	}()

	return fn()
}

func parseUID(id string) (imapv2.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid message uid %q", id)
	}
	return imapv2.UID(n), nil
}
