package subscription

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r3e-network/sovd-gateway/internal/conv"
)

func newTestStore(t *testing.T) *conv.Store {
	t.Helper()
	s := conv.NewStore(conv.Meta{})
	if err := s.Register(conv.Definition{DID: 0xF405, Name: "engine_rpm", Type: conv.TypeU16, Shape: conv.ScalarShape(), Scale: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return s
}

func sequentialIDs() func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("sub-%d", atomic.AddInt64(&n, 1))
	}
}

func TestCreateRejectsUnknownParam(t *testing.T) {
	store := newTestStore(t)
	m := New(store, func(ctx context.Context, p string) (interface{}, error) { return 1, nil }, nil, nil, sequentialIDs())
	defer m.Close()

	_, err := m.Create(context.Background(), "ecu1", []string{"no_such_param"}, 10, ModePeriodic, 0)
	if err == nil {
		t.Fatal("expected an unresolvable parameter to be rejected")
	}
}

func TestCreateRejectsBadRateOrEmptyParams(t *testing.T) {
	store := newTestStore(t)
	m := New(store, func(ctx context.Context, p string) (interface{}, error) { return 1, nil }, nil, nil, sequentialIDs())
	defer m.Close()

	if _, err := m.Create(context.Background(), "ecu1", []string{"engine_rpm"}, 0, ModePeriodic, 0); err == nil {
		t.Fatal("expected a non-positive rate to be rejected")
	}
	if _, err := m.Create(context.Background(), "ecu1", nil, 10, ModePeriodic, 0); err == nil {
		t.Fatal("expected an empty parameter list to be rejected")
	}
}

func TestPeriodicSubscriptionEmitsOrderedEvents(t *testing.T) {
	store := newTestStore(t)
	var counter int64
	reader := func(ctx context.Context, p string) (interface{}, error) {
		return atomic.AddInt64(&counter, 1), nil
	}
	m := New(store, reader, nil, nil, sequentialIDs())
	defer m.Close()

	sub, err := m.Create(context.Background(), "ecu1", []string{"engine_rpm"}, 50, ModePeriodic, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Out():
			if ev.Sequence <= last {
				t.Fatalf("expected strictly increasing sequence, got %d after %d", ev.Sequence, last)
			}
			last = ev.Sequence
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a subscription event")
		}
	}
}

func TestCancelRemovesSubscriptionAndClearsDynamicDID(t *testing.T) {
	store := newTestStore(t)
	reader := func(ctx context.Context, p string) (interface{}, error) { return 1, nil }
	var cleared uint16
	clear := func(ctx context.Context, target uint16) error { cleared = target; return nil }
	m := New(store, reader, nil, clear, sequentialIDs())
	defer m.Close()

	sub, err := m.Create(context.Background(), "ecu1", []string{"engine_rpm"}, 50, ModePeriodic, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sub.DynamicDID = 0xF201

	if err := m.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := m.Get(sub.ID); ok {
		t.Fatal("expected subscription to be gone after cancel")
	}
	if cleared != 0xF201 {
		t.Fatalf("expected dynamic DID 0xF201 to be cleared, got 0x%X", cleared)
	}
}

func TestCancelWaitsForRunBeforeClosingOut(t *testing.T) {
	store := newTestStore(t)
	// A slow reader keeps run() deep inside a tick's read loop, well past
	// the point Cancel's ctx cancellation lands, so this exercises Cancel
	// racing a live send instead of an idle subscription.
	reader := func(ctx context.Context, p string) (interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	}
	m := New(store, reader, nil, nil, sequentialIDs())
	defer m.Close()

	sub, err := m.Create(context.Background(), "ecu1", []string{"engine_rpm"}, 100, ModePeriodic, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Cancel immediately, before the first tick has necessarily fired;
	// if Cancel closed sub.out itself instead of waiting for run() to
	// exit, a tick already in flight could panic sending on a closed
	// channel.
	if err := m.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// run() must have fully returned (and therefore closed sub.out)
	// before Cancel returned; draining should observe a closed channel
	// rather than block or panic.
	select {
	case _, open := <-sub.Out():
		if open {
			t.Fatal("expected sub.out to be drained or closed, not still delivering")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sub.out to be closed")
	}
}

func TestCancelUnknownIsNotFound(t *testing.T) {
	store := newTestStore(t)
	m := New(store, func(ctx context.Context, p string) (interface{}, error) { return 1, nil }, nil, nil, sequentialIDs())
	defer m.Close()
	if err := m.Cancel(context.Background(), "missing"); err == nil {
		t.Fatal("expected cancelling an unknown subscription to fail")
	}
}

func TestListReturnsSnapshot(t *testing.T) {
	store := newTestStore(t)
	m := New(store, func(ctx context.Context, p string) (interface{}, error) { return 1, nil }, nil, nil, sequentialIDs())
	defer m.Close()
	_, _ = m.Create(context.Background(), "ecu1", []string{"engine_rpm"}, 10, ModePeriodic, 0)
	_, _ = m.Create(context.Background(), "ecu1", []string{"engine_rpm"}, 10, ModePeriodic, 0)
	if got := len(m.List()); got != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", got)
	}
}
