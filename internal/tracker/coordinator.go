// Package tracker runs the tracking coordinator: a single background actor
// that formats, throttles, and appends activity events to the remote sheet,
// managing the bearer token through the auth broker.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trailmark-io/trailmark/internal/auth"
	"github.com/trailmark-io/trailmark/internal/event"
	"github.com/trailmark-io/trailmark/internal/format"
	"github.com/trailmark-io/trailmark/internal/sheets"
	"github.com/trailmark-io/trailmark/internal/storage"
	"github.com/trailmark-io/trailmark/internal/tokenstore"
	"go.uber.org/zap"
)

// EventThrottle is the minimum spacing between accepted data events.
// Anything arriving sooner is dropped silently.
const EventThrottle = time.Second

const (
	inboxSize  = 256
	outboxSize = 64
)

// SheetWriter is the slice of the sheets client the coordinator needs.
type SheetWriter interface {
	EnsureHeader(ctx context.Context, token string) error
	AppendRow(ctx context.Context, token string, row sheets.Row) error
}

// Config wires a Coordinator.
type Config struct {
	Store       *tokenstore.Store
	AuthTimeout time.Duration       // 0 means auth.DefaultTimeout
	Mirror      storage.EventWriter // optional analytics mirror
	Logger      *zap.Logger

	// NewSheetWriter builds the sheet client once Init supplies the sheet
	// ID. Nil selects the production sheets client.
	NewSheetWriter func(sheetID string) SheetWriter

	// Now is the clock; nil means time.Now. Injected for throttle tests.
	Now func() time.Time
}

// Coordinator is the single-instance background actor. All of its mutable
// state (sheetCfg, currentLocation, lastEventTime) is touched only by the
// run loop, so it needs no locking; the token slot lives in the broker,
// which is the one piece shared with the out-of-band AUTH_TOKEN path.
type Coordinator struct {
	broker    *auth.Broker
	mirror    storage.EventWriter
	logger    *zap.Logger
	newSheet  func(sheetID string) SheetWriter
	now       func() time.Time
	inbox     chan Inbound
	outbox    chan Outbound
	done      chan struct{}
	drained   chan struct{} // closed by run when it returns
	closeOnce sync.Once

	// actor-owned state
	cfg           *SheetConfig
	sheet         SheetWriter
	location      *event.Location
	lastEventTime time.Time
}

// New creates a Coordinator and starts its run loop.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newSheet := cfg.NewSheetWriter
	if newSheet == nil {
		newSheet = func(sheetID string) SheetWriter {
			return sheets.NewClient("", sheetID, nil)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		mirror:   cfg.Mirror,
		logger:   logger,
		newSheet: newSheet,
		now:      now,
		inbox:    make(chan Inbound, inboxSize),
		outbox:   make(chan Outbound, outboxSize),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	c.broker = auth.New(auth.Config{
		Store:   cfg.Store,
		Request: func() { c.emit(RequestAuthMsg{}) },
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	})

	go c.run()
	return c
}

// Send delivers a message to the coordinator. Never blocks: data messages
// are dropped with a warning when the inbox is full, and AuthTokenMsg is
// routed straight to the broker so an acquisition the run loop is blocked
// on can complete.
func (c *Coordinator) Send(msg Inbound) {
	if m, ok := msg.(AuthTokenMsg); ok {
		if m.Err != "" {
			c.broker.Fail(m.Err)
			return
		}
		c.broker.Deliver(context.Background(), m.Token)
		return
	}

	select {
	case c.inbox <- msg:
	default:
		c.logger.Warn("coordinator inbox full, dropping message",
			zap.String("type", fmt.Sprintf("%T", msg)),
		)
	}
}

// Outbound returns the channel of messages flowing back to the host context.
func (c *Coordinator) Outbound() <-chan Outbound {
	return c.outbox
}

// Close stops the run loop after it drains queued messages.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.drained
}

func (c *Coordinator) run() {
	defer close(c.drained)

	for {
		select {
		case msg := <-c.inbox:
			c.handle(msg)
		case <-c.done:
			for {
				select {
				case msg := <-c.inbox:
					c.handle(msg)
				default:
					return
				}
			}
		}
	}
}

// handle processes one message to completion. Failures are reported
// outward, never propagated: the actor must survive every message.
func (c *Coordinator) handle(msg Inbound) {
	switch m := msg.(type) {
	case InitMsg:
		c.handleInit(m)
	case PageViewMsg:
		c.storeEvent(m.Event)
	case ClickMsg:
		c.storeEvent(m.Event)
	case ErrorEventMsg:
		c.storeEvent(m.Event)
	case LocationUpdateMsg:
		loc := m.Location
		c.location = &loc
	case AuthTokenMsg:
		// Routed out-of-band in Send; nothing to do here.
	}
}

func (c *Coordinator) handleInit(m InitMsg) {
	cfg := m.Config
	c.cfg = &cfg
	c.sheet = c.newSheet(cfg.SheetID)
	if m.Location != nil {
		c.location = m.Location
	}

	if _, err := c.broker.Acquire(context.Background()); err != nil {
		c.logger.Error("initial token acquisition failed", zap.Error(err))
		c.emit(ReportErrorMsg{Message: "authentication failed: " + err.Error()})
		return
	}

	c.logger.Info("tracker initialized", zap.String("sheet_id", cfg.SheetID))
	c.emit(InitializedMsg{})
}

// storeEvent is the per-event pipeline: throttle, auth, format, append,
// with one reauth retry on 401/403.
func (c *Coordinator) storeEvent(e event.TrackerEvent) {
	now := c.now()
	if now.Sub(c.lastEventTime) < EventThrottle {
		return
	}

	// Data events before Init have no sheet to land in. They are rejected
	// rather than queued; the host context re-sends after Initialized.
	if c.cfg == nil {
		c.emit(ReportErrorMsg{Message: "tracker not initialized"})
		return
	}
	c.lastEventTime = now

	err := c.writeEvent(e)
	if err != nil {
		var httpErr *sheets.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsAuthError() {
			// Token expired or revoked: drop it from memory and retry the
			// whole flow exactly once.
			c.broker.Invalidate()
			err = c.writeEvent(e)
		}
	}
	if err != nil {
		c.logger.Error("event write failed",
			zap.String("kind", string(e.Kind)),
			zap.String("page", e.Page),
			zap.Error(err),
		)
		c.emit(ReportErrorMsg{Message: "event write failed: " + err.Error()})
		return
	}

	if c.mirror != nil {
		c.mirror.Write(storage.FromEvent(e, c.location))
	}
}

func (c *Coordinator) writeEvent(e event.TrackerEvent) error {
	ctx := context.Background()
	token, err := c.broker.Acquire(ctx)
	if err != nil {
		return err
	}

	row := format.Format(e, c.location)
	if err := c.sheet.EnsureHeader(ctx, token); err != nil {
		return err
	}
	return c.sheet.AppendRow(ctx, token, row)
}

// emit sends an outbound message without ever blocking the actor.
func (c *Coordinator) emit(msg Outbound) {
	select {
	case c.outbox <- msg:
	default:
		c.logger.Warn("coordinator outbox full, dropping message",
			zap.String("type", fmt.Sprintf("%T", msg)),
		)
	}
}
