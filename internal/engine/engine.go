package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// Engine owns one logical session per configured account: it starts them at
// boot, restarts them through the reconnection scheduler, and serves
// aggregate connection status snapshots.
type Engine struct {
	cfg      *config.Config
	pipeline *Pipeline
	logger   *logrus.Logger

	mu       sync.Mutex
	accounts map[string]*accountState
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc

	// ingestCtx is handed to in-flight pipelines instead of ctx, so a
	// shutdown drains classification and delivery work rather than
	// cancelling it. It is cancelled only after the drain window elapses.
	ingestCtx    context.Context
	ingestCancel context.CancelFunc

	wg sync.WaitGroup
}

// accountState is the registry entry for one account. All fields are
// guarded by Engine.mu; sessions mutate them only through generation-fenced
// engine callbacks.
type accountState struct {
	cfg      *config.AccountConfig
	gen      uint64
	attempts int
	status   types.ConnectionState
	timer    *time.Timer
}

// New creates a synchronization engine over the configured accounts
func New(cfg *config.Config, pipeline *Pipeline, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger,
		accounts: make(map[string]*accountState),
	}
}

// Start launches one session per configured account
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.ingestCtx, e.ingestCancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := range e.cfg.Accounts {
		acc := &e.cfg.Accounts[i]
		st := &accountState{
			cfg:    acc,
			status: types.ConnectionState{AccountName: acc.Name},
		}
		e.accounts[acc.Name] = st
		e.launch(st)
	}

	e.logger.WithField("accounts", len(e.cfg.Accounts)).Info("Synchronization engine started")
	return nil
}

// launch starts the account's next session generation. Caller holds e.mu.
func (e *Engine) launch(st *accountState) {
	st.gen++
	gen := st.gen
	name := st.cfg.Name
	sess := newSession(e, st.cfg, gen)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := sess.run(e.ctx)
		e.sessionExited(name, gen, err)
	}()
}

// sessionConnected records a successful connect and resets the reconnect
// counter. Stale generations are ignored.
func (e *Engine) sessionConnected(account string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.accounts[account]
	if st == nil || st.gen != gen {
		return
	}

	st.attempts = 0
	now := time.Now()
	st.status.Connected = true
	st.status.LastSync = &now
	st.status.Error = ""
}

// sessionSynced bumps the account's last-sync timestamp
func (e *Engine) sessionSynced(account string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.accounts[account]
	if st == nil || st.gen != gen {
		return
	}

	now := time.Now()
	st.status.LastSync = &now
}

// sessionExited handles a terminated session: it records the disconnect and
// hands the account to the reconnection scheduler unless the engine is
// shutting down.
func (e *Engine) sessionExited(account string, gen uint64, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.accounts[account]
	if st == nil || st.gen != gen {
		return
	}

	st.status.Connected = false
	if cause != nil {
		st.status.Error = cause.Error()
		e.logger.WithError(cause).WithField("account", account).Warn("Session ended")
	} else {
		st.status.Error = ""
		e.logger.WithField("account", account).Info("Session closed")
	}

	if e.ctx.Err() != nil {
		return
	}

	e.scheduleReconnect(st, cause)
}

// Statuses returns a read-only snapshot of every account's connection state,
// in configuration order.
func (e *Engine) Statuses() []types.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.ConnectionState, 0, len(e.accounts))
	for _, name := range e.cfg.AccountNames() {
		st := e.accounts[name]
		if st == nil {
			continue
		}
		snap := st.status
		if st.status.LastSync != nil {
			t := *st.status.LastSync
			snap.LastSync = &t
		}
		out = append(out, snap)
	}
	return out
}

// Shutdown stops all sessions and waits up to timeout for them to drain
func (e *Engine) Shutdown(timeout time.Duration) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	for _, st := range e.accounts {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("All sessions stopped")
	case <-time.After(timeout):
		e.logger.Warn("Timed out waiting for sessions to stop")
	}

	// Sessions have drained their in-flight pipelines (or the wait timed
	// out); now abort whatever is still running.
	if e.ingestCancel != nil {
		e.ingestCancel()
	}
}
