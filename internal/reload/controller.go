// Package reload coalesces rule set changes into content blocker updates.
//
// At most one update runs at a time. A change that arrives while an update
// runs marks the controller dirty; once the running update ends, one more
// update follows after a cool-down, so the last change is always compiled.
package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/cbsync/internal/log"
	"github.com/bnema/cbsync/internal/models"
)

const (
	DefaultCooldown      = 5 * time.Second
	DefaultSafetyTimeout = 60 * time.Second
)

// StateTimeoutError is reported when an update outlives the safety timeout.
// The controller goes back to idle and the update is dropped.
type StateTimeoutError struct {
	After time.Duration
}

func (e *StateTimeoutError) Error() string {
	return fmt.Sprintf("content blocker update did not finish within %s", e.After)
}

// UpdateFunc performs one content blocker update
type UpdateFunc func(ctx context.Context) error

// Controller runs UpdateFunc in response to RuleSetChanged
type Controller struct {
	update   UpdateFunc
	cooldown time.Duration
	timeout  time.Duration
	logger   log.Logger
	onError  func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	processing bool
	dirty      bool
	closed     bool
	idle       chan struct{}
}

// New creates an idle controller
func New(update UpdateFunc, cfg models.ReloadConfig, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.GetLogger()
	}
	timeout := cfg.SafetyTimeout
	if timeout <= 0 {
		timeout = DefaultSafetyTimeout
	}

	idle := make(chan struct{})
	close(idle)

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		update:   update,
		cooldown: cfg.Cooldown,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		idle:     idle,
	}
}

// OnError registers fn to receive update failures, including
// *StateTimeoutError. Must be called before the first RuleSetChanged.
func (c *Controller) OnError(fn func(error)) {
	c.onError = fn
}

// RuleSetChanged signals that the compiled rule set is stale. It never blocks.
func (c *Controller) RuleSetChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.processing {
		c.dirty = true
		return
	}

	c.processing = true
	c.idle = make(chan struct{})
	c.wg.Add(1)
	go c.loop(c.idle)
}

// Processing reports whether an update is running or pending
func (c *Controller) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Wait blocks until the controller is idle
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close abandons any pending update and waits for the running one to return
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) loop(idle chan struct{}) {
	defer c.wg.Done()
	defer close(idle)

	for {
		c.mu.Lock()
		c.dirty = false
		c.mu.Unlock()

		err := c.invoke()

		var timeoutErr *StateTimeoutError
		switch {
		case errors.As(err, &timeoutErr):
			c.logger.Error(map[string]any{"after": timeoutErr.After.String()}, "Content blocker update timed out, resetting")
			c.report(err)
			c.finish(true)
			return
		case err != nil && c.ctx.Err() == nil:
			c.logger.Error(map[string]any{"error": err}, "Content blocker update failed")
			c.report(err)
		}

		c.mu.Lock()
		if !c.dirty || c.closed {
			c.processing = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Debug(map[string]any{"cooldown": c.cooldown.String()}, "Rule set changed during update, reloading again")

		timer := time.NewTimer(c.cooldown)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			c.finish(false)
			return
		}
	}
}

// finish returns to idle, optionally forgetting pending changes
func (c *Controller) finish(clearDirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = false
	if clearDirty {
		c.dirty = false
	}
}

// invoke runs one update bounded by the safety timeout
func (c *Controller) invoke() error {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- c.update(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) && c.ctx.Err() == nil && ctx.Err() != nil {
		return &StateTimeoutError{After: c.timeout}
	}
	return err
}

func (c *Controller) report(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
