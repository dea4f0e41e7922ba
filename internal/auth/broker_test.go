package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trailmark-io/trailmark/internal/tokenstore"
)

func newTestBroker(t *testing.T, timeout time.Duration) (*Broker, *tokenstore.Store, *atomic.Int32) {
	t.Helper()
	store := tokenstore.New(filepath.Join(t.TempDir(), "tokens.db"))
	t.Cleanup(func() { _ = store.Close() })

	var requests atomic.Int32
	b := New(Config{
		Store:   store,
		Request: func() { requests.Add(1) },
		Timeout: timeout,
	})
	return b, store, &requests
}

func TestAcquire_StoredTokenSkipsRequest(t *testing.T) {
	b, store, requests := newTestBroker(t, time.Second)
	if err := store.Put(context.Background(), "tok_cached"); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	token, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token != "tok_cached" {
		t.Errorf("expected tok_cached, got %q", token)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("expected no auth requests, got %d", n)
	}
	if b.State() != StateAuthenticated {
		t.Errorf("expected authenticated state, got %s", b.State())
	}
}

func TestAcquire_EmitsOneRequestAndResolvesOnDeliver(t *testing.T) {
	b, store, requests := newTestBroker(t, time.Second)

	done := make(chan struct{})
	var token string
	var err error
	go func() {
		token, err = b.Acquire(context.Background())
		close(done)
	}()

	waitForState(t, b, StateAwaitingToken)
	b.Deliver(context.Background(), "tok_fresh")
	<-done

	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token != "tok_fresh" {
		t.Errorf("expected tok_fresh, got %q", token)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected exactly one auth request, got %d", n)
	}

	// Delivered token is persisted for the next process.
	stored, serr := store.Get(context.Background())
	if serr != nil {
		t.Fatalf("store get: %v", serr)
	}
	if stored != "tok_fresh" {
		t.Errorf("expected persisted tok_fresh, got %q", stored)
	}
}

func TestAcquire_TimesOut(t *testing.T) {
	b, _, _ := newTestBroker(t, 20*time.Millisecond)

	_, err := b.Acquire(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if b.State() != StateIdle {
		t.Errorf("expected idle after timeout, got %s", b.State())
	}
}

func TestAcquire_FailSurfacesDenied(t *testing.T) {
	b, _, _ := newTestBroker(t, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := b.Acquire(context.Background())
		done <- err
	}()

	waitForState(t, b, StateAwaitingToken)
	b.Fail("consent dismissed")

	err := <-done
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestAcquire_ConcurrentCallersShareOneRequest(t *testing.T) {
	b, _, requests := newTestBroker(t, time.Second)

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = b.Acquire(context.Background())
		}(i)
	}

	waitForState(t, b, StateAwaitingToken)
	b.Deliver(context.Background(), "tok_shared")
	wg.Wait()

	if n := requests.Load(); n != 1 {
		t.Errorf("expected one auth request for %d callers, got %d", callers, n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "tok_shared" {
			t.Errorf("caller %d: expected tok_shared, got %q", i, tokens[i])
		}
	}
}

func TestInvalidate_ClearsMemoryNotStore(t *testing.T) {
	b, store, _ := newTestBroker(t, time.Second)
	b.Deliver(context.Background(), "tok_live")

	b.Invalidate()
	if got := b.Token(); got != "" {
		t.Errorf("expected empty in-memory token, got %q", got)
	}

	stored, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if stored != "tok_live" {
		t.Errorf("store entry should survive invalidation, got %q", stored)
	}
}

func TestAcquire_CanceledContext(t *testing.T) {
	b, _, _ := newTestBroker(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func waitForState(t *testing.T, b *Broker, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("broker never reached state %s", want)
}
