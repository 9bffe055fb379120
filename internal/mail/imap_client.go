package mail

import (
	"crypto/tls"
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

// RawMessage is one fetched message: its mailbox position and full source bytes.
type RawMessage struct {
	SeqNum uint32
	UID    uint32
	Raw    []byte
}

// IMAPClient wraps one IMAP connection for a single account session.
// It is not safe for concurrent use; the owning session serializes all calls.
type IMAPClient struct {
	config    *config.AccountConfig
	client    *client.Client
	logger    *logrus.Entry
	connected bool
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		logger: logger.WithField("account", cfg.Name),
	}
}

// Connect establishes a connection to the IMAP server and logs in
func (c *IMAPClient) Connect() error {
	if c.connected && c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)

	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.config.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	c.client = cl

	if err := c.client.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).Error("Failed to login to IMAP server")
		c.client.Logout() //nolint:errcheck
		c.client = nil
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.connected = true
	c.logger.Info("Connected to IMAP server")
	return nil
}

// Close logs out and closes the IMAP connection
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Logout()
		c.client = nil
		c.connected = false
		return err
	}
	return nil
}

// SelectInbox selects the INBOX folder and returns its status
func (c *IMAPClient) SelectInbox() (*imap.MailboxStatus, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	mbox, err := c.client.Select("INBOX", false)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return mbox, nil
}

// Updates registers and returns a buffered channel for unilateral server updates.
// Must be called after SelectInbox and before Idle.
func (c *IMAPClient) Updates(buffer int) chan client.Update {
	updates := make(chan client.Update, buffer)
	c.client.Updates = updates
	return updates
}

// Idle blocks in IMAP IDLE until stop is closed or the connection fails
func (c *IMAPClient) Idle(stop <-chan struct{}) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Idle(stop, nil)
}

// Noop sends a NOOP probe; an error indicates a dead connection
func (c *IMAPClient) Noop() error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Noop()
}

// FetchRange fetches the full source of messages in the [from, to] sequence range
func (c *IMAPClient) FetchRange(from, to uint32) ([]*RawMessage, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if from > to {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchRFC822}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.Fetch(seqSet, items, messages)
	}()

	var fetched []*RawMessage
	for msg := range messages {
		raw := c.readMessageSource(msg)
		if len(raw) == 0 {
			c.logger.WithField("seq", msg.SeqNum).Warn("Fetched message has no source body")
			continue
		}
		fetched = append(fetched, &RawMessage{
			SeqNum: msg.SeqNum,
			UID:    msg.Uid,
			Raw:    raw,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return fetched, nil
}

// readMessageSource extracts the RFC822 literal from a fetched message
func (c *IMAPClient) readMessageSource(msg *imap.Message) []byte {
	if msg.Body == nil {
		return nil
	}

	if literal, ok := msg.Body[nil]; ok {
		return c.readLiteralToBytes(literal)
	}

	// Servers differ in how they key the RFC822 section; take any non-empty one.
	for _, literal := range msg.Body {
		if raw := c.readLiteralToBytes(literal); len(raw) > 0 {
			return raw
		}
	}

	return nil
}

// readLiteralToBytes reads content from an IMAP literal and returns bytes
func (c *IMAPClient) readLiteralToBytes(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}

	body := make([]byte, 0, 8192)
	buf := make([]byte, 1024)
	for {
		n, err := literal.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.WithError(err).Error("Error reading literal")
			break
		}
	}
	return body
}
