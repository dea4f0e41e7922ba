// Package auth obtains and caches the bearer token used for spreadsheet
// writes. Interactive consent runs in the host context; the broker only
// requests it and waits for the token to come back.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trailmark-io/trailmark/internal/tokenstore"
	"go.uber.org/zap"
)

var (
	// ErrTimeout is returned when no token arrives within the configured wait.
	ErrTimeout = errors.New("auth: timed out waiting for token")
	// ErrDenied is returned when the host context reports that interactive
	// acquisition failed. Not retried automatically.
	ErrDenied = errors.New("auth: token acquisition denied")
)

// DefaultTimeout bounds the wait for the host context to respond.
const DefaultTimeout = 30 * time.Second

// State describes where the broker is in its acquisition lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingToken State = "awaiting_token"
	StateAuthenticated State = "authenticated"
)

// attempt is a single in-flight acquisition. All concurrent callers wait on
// the same done channel; resolve fires exactly once.
type attempt struct {
	once  sync.Once
	done  chan struct{}
	token string
	err   error
}

func (a *attempt) resolve(token string, err error) {
	a.once.Do(func() {
		a.token = token
		a.err = err
		close(a.done)
	})
}

// Config wires a Broker.
type Config struct {
	Store   *tokenstore.Store
	Request func()        // emits REQUEST_AUTH to the host context
	Timeout time.Duration // 0 means DefaultTimeout
	Logger  *zap.Logger
}

// Broker owns the process-wide token slot. At most one acquisition is in
// flight at a time; concurrent callers join it instead of issuing duplicate
// interactive-consent requests.
type Broker struct {
	store   *tokenstore.Store
	request func()
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	token    string
	inflight *attempt
}

// New creates a Broker. Config.Store and Config.Request are required.
func New(cfg Config) *Broker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		store:   cfg.Store,
		request: cfg.Request,
		timeout: timeout,
		logger:  logger,
	}
}

// Token returns the current in-memory token, or "" if none is held.
func (b *Broker) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// State reports the broker's current lifecycle state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.token != "":
		return StateAuthenticated
	case b.inflight != nil:
		return StateAwaitingToken
	default:
		return StateIdle
	}
}

// Invalidate clears the in-memory token only. The durable store entry is
// left in place; it is overwritten on the next successful acquisition.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
}

// Acquire returns a valid token, going through (in order) the in-memory
// slot, any acquisition already in flight, the durable store, and finally an
// interactive request to the host context bounded by the broker timeout.
func (b *Broker) Acquire(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.token != "" {
		token := b.token
		b.mu.Unlock()
		return token, nil
	}
	if a := b.inflight; a != nil {
		b.mu.Unlock()
		return b.wait(ctx, a)
	}

	a := &attempt{done: make(chan struct{})}
	b.inflight = a
	b.mu.Unlock()

	// A durably cached token skips the interactive round trip entirely.
	// Store failures are non-fatal: treat as token-absent.
	stored, err := b.store.Get(ctx)
	if err != nil {
		b.logger.Warn("token store read failed, re-authenticating", zap.Error(err))
	}
	if stored != "" {
		b.settle(a, stored, nil)
		return b.wait(ctx, a)
	}

	b.request()
	go b.expire(a)
	return b.wait(ctx, a)
}

// Deliver accepts a freshly acquired token from the host context. It updates
// the in-memory slot, persists to the durable store, and resolves any
// acquisition in flight. Unsolicited tokens are accepted too.
func (b *Broker) Deliver(ctx context.Context, token string) {
	if token == "" {
		return
	}
	b.mu.Lock()
	b.token = token
	a := b.inflight
	b.inflight = nil
	b.mu.Unlock()

	// Persist before waking waiters so a caller that immediately restarts
	// never observes an empty store behind a live token.
	if err := b.store.Put(ctx, token); err != nil {
		b.logger.Warn("token store write failed", zap.Error(err))
	}
	if a != nil {
		a.resolve(token, nil)
	}
}

// Fail reports that the host context could not acquire a token. The pending
// acquisition (if any) resolves with ErrDenied.
func (b *Broker) Fail(reason string) {
	err := ErrDenied
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrDenied, reason)
	}
	b.settleInflight("", err)
}

// settle resolves the attempt and publishes the token on success.
func (b *Broker) settle(a *attempt, token string, err error) {
	b.mu.Lock()
	if err == nil && token != "" {
		b.token = token
	}
	if b.inflight == a {
		b.inflight = nil
	}
	b.mu.Unlock()
	a.resolve(token, err)
}

func (b *Broker) settleInflight(token string, err error) {
	b.mu.Lock()
	a := b.inflight
	b.inflight = nil
	b.mu.Unlock()
	if a != nil {
		a.resolve(token, err)
	}
}

// expire times out an interactive acquisition that never got a response.
func (b *Broker) expire(a *attempt) {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		b.settle(a, "", ErrTimeout)
	}
}

func (b *Broker) wait(ctx context.Context, a *attempt) (string, error) {
	select {
	case <-a.done:
		return a.token, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
