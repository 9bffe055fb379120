package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/mail"
)

const (
	// seenCacheSize bounds the per-session observed-UID set
	seenCacheSize = 4096

	// inflightDrainTimeout bounds how long a closing session waits for
	// in-flight pipelines
	inflightDrainTimeout = 30 * time.Second
)

// session owns one IMAP connection for one account generation. It performs
// a bounded initial sync, then consumes IDLE updates until the connection
// fails or the engine shuts down. Sessions are never reused; a reconnect
// creates a fresh session under the next generation.
type session struct {
	account  *config.AccountConfig
	gen      uint64
	engine   *Engine
	client   *mail.IMAPClient
	pipeline *Pipeline

	// ingest is the context pipelines run on. It outlives the session-stop
	// signal so a shutdown drains in-flight classification and delivery
	// instead of cancelling it mid-flight.
	ingest context.Context

	// seen tracks UIDs already routed through the pipeline within this
	// session's lifetime. True dedupe is the index's job; this only avoids
	// redundant fetch work.
	seen     *lru.Cache[uint32, struct{}]
	sem      chan struct{}
	inflight sync.WaitGroup
	lastSeq  uint32

	logger *logrus.Entry
}

func newSession(e *Engine, account *config.AccountConfig, gen uint64) *session {
	seen, _ := lru.New[uint32, struct{}](seenCacheSize)
	return &session{
		account:  account,
		gen:      gen,
		engine:   e,
		client:   mail.NewIMAPClient(account, e.logger),
		pipeline: e.pipeline,
		ingest:   e.ingestCtx,
		seen:     seen,
		sem:      make(chan struct{}, e.cfg.SyncConcurrency),
		logger: e.logger.WithFields(logrus.Fields{
			"account":    account.Name,
			"generation": gen,
		}),
	}
}

// run drives the session through its phases. A nil return means a clean
// close; any error is handed to the reconnection scheduler by the engine.
func (s *session) run(ctx context.Context) error {
	defer s.client.Close()
	defer s.drainInflight()

	if err := s.client.Connect(); err != nil {
		return err
	}

	status, err := s.client.SelectInbox()
	if err != nil {
		return err
	}

	s.engine.sessionConnected(s.account.Name, s.gen)

	if err := s.initialSync(status); err != nil {
		return err
	}

	return s.live(ctx)
}

// initialSync ingests the most recent window of messages, running their
// pipelines concurrently and awaiting the whole set.
func (s *session) initialSync(status *imap.MailboxStatus) error {
	total := status.Messages
	if total == 0 {
		s.lastSeq = 0
		s.logger.Info("Initial sync: mailbox empty")
		return nil
	}

	from := windowStart(total, s.engine.cfg.SyncWindow)
	msgs, err := s.client.FetchRange(from, total)
	if err != nil {
		return fmt.Errorf("initial sync fetch failed: %w", err)
	}

	for _, msg := range msgs {
		s.dispatch(msg)
	}
	s.inflight.Wait()

	s.lastSeq = total
	s.engine.sessionSynced(s.account.Name, s.gen)

	s.logger.WithFields(logrus.Fields{
		"available": total,
		"fetched":   len(msgs),
	}).Info("Initial sync completed")

	return nil
}

// windowStart returns the first sequence number of the bounded recent
// window over a mailbox with total messages.
func windowStart(total uint32, cap int) uint32 {
	if cap <= 0 || uint32(cap) >= total {
		return 1
	}
	return total - uint32(cap) + 1
}

// live consumes IDLE updates, re-arming IDLE around each keep-alive probe
// and update fetch. Any transport failure ends the session.
func (s *session) live(ctx context.Context) error {
	updates := s.client.Updates(128)

	stopIdle := make(chan struct{})
	doneIdle := make(chan error, 1)
	go func() { doneIdle <- s.client.Idle(stopIdle) }()

	restartIdle := func() {
		stopIdle = make(chan struct{})
		doneIdle = make(chan error, 1)
		stop := stopIdle
		done := doneIdle
		go func() { done <- s.client.Idle(stop) }()
	}

	// suspendIdle stops the running IDLE so a command can be issued.
	suspendIdle := func() error {
		close(stopIdle)
		return <-doneIdle
	}

	keepalive := time.NewTicker(s.engine.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	s.logger.Info("Entering live mode")

	for {
		select {
		case <-ctx.Done():
			close(stopIdle)
			<-doneIdle
			return nil

		case err := <-doneIdle:
			// IDLE ended without being asked to stop.
			if err != nil {
				return fmt.Errorf("idle failed: %w", err)
			}
			return fmt.Errorf("connection closed by server")

		case update := <-updates:
			if err := suspendIdle(); err != nil {
				return fmt.Errorf("idle failed: %w", err)
			}
			if err := s.handleUpdate(update); err != nil {
				return err
			}
			restartIdle()

		case <-keepalive.C:
			if err := suspendIdle(); err != nil {
				return fmt.Errorf("idle failed: %w", err)
			}
			if err := s.client.Noop(); err != nil {
				return fmt.Errorf("keep-alive probe failed: %w", err)
			}
			restartIdle()
		}
	}
}

// handleUpdate processes one unilateral server update
func (s *session) handleUpdate(update client.Update) error {
	switch u := update.(type) {
	case *client.MailboxUpdate:
		return s.fetchNew()
	case *client.ExpungeUpdate:
		s.handleExpunge(u.SeqNum)
	}
	return nil
}

// fetchNew re-queries the mailbox and ingests messages above the watermark
func (s *session) fetchNew() error {
	status, err := s.client.SelectInbox()
	if err != nil {
		return fmt.Errorf("failed to refresh mailbox status: %w", err)
	}

	if status.Messages < s.lastSeq {
		// Messages were expunged without individual notifications.
		s.lastSeq = status.Messages
		return nil
	}
	if status.Messages == s.lastSeq {
		return nil
	}

	msgs, err := s.client.FetchRange(s.lastSeq+1, status.Messages)
	if err != nil {
		return fmt.Errorf("failed to fetch new messages: %w", err)
	}

	for _, msg := range msgs {
		s.dispatch(msg)
	}

	s.lastSeq = status.Messages
	s.engine.sessionSynced(s.account.Name, s.gen)

	s.logger.WithField("count", len(msgs)).Info("Fetched new messages")
	return nil
}

// handleExpunge shifts the watermark down when a message below it is removed
func (s *session) handleExpunge(seqNum uint32) {
	if seqNum <= s.lastSeq && s.lastSeq > 0 {
		s.lastSeq--
	}
}

// dispatch runs one message's pipeline on a bounded worker slot. Failures
// are logged and never abort the rest of the batch.
func (s *session) dispatch(msg *mail.RawMessage) {
	if _, ok := s.seen.Get(msg.UID); ok {
		return
	}
	s.seen.Add(msg.UID, struct{}{})

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		if _, err := s.pipeline.Ingest(s.ingest, s.account.Name, "INBOX", msg.Raw); err != nil {
			s.logger.WithError(err).WithField("seq", msg.SeqNum).Warn("Message ingestion failed")
		}
	}()
}

// drainInflight waits for in-flight pipelines before the transport closes
func (s *session) drainInflight() {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(inflightDrainTimeout):
		s.logger.Warn("Timed out waiting for in-flight pipelines")
	}
}
