package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// backoffDelay computes the reconnect delay for the given attempt count:
// min(base * 2^attempts, max).
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	// 1<<attempts overflows past 62; the cap applies long before that.
	if attempts > 32 {
		return max
	}
	delay := base << uint(attempts)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// scheduleReconnect arms a single-shot retry for an account whose session
// just exited. Caller must hold e.mu. The armed timer carries the session
// generation it observed; if another session supersedes that generation
// before the timer fires, the retry is dropped.
func (e *Engine) scheduleReconnect(st *accountState, cause error) {
	name := st.cfg.Name

	if st.attempts >= e.cfg.ReconnectMaxAttempts {
		st.status.Error = fmt.Sprintf("giving up after %d reconnect attempts: %v", st.attempts, cause)
		e.logger.WithFields(logrus.Fields{
			"account":  name,
			"attempts": st.attempts,
		}).Error("Account permanently disconnected")
		return
	}

	delay := backoffDelay(e.cfg.ReconnectBaseDelay, e.cfg.ReconnectMaxDelay, st.attempts)
	gen := st.gen

	e.logger.WithFields(logrus.Fields{
		"account": name,
		"attempt": st.attempts + 1,
		"delay":   delay.String(),
	}).Info("Scheduling reconnect")

	st.timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		current := e.accounts[name]
		if current == nil || current.gen != gen {
			// A newer session owns this account; this retry is stale.
			return
		}
		if e.ctx.Err() != nil {
			return
		}

		current.attempts++
		e.launch(current)
	})
}
