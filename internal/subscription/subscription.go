// Package subscription implements the subscription/periodic stream
// manager (spec.md §4.5): dynamic DID definition, periodic reads, and
// ordered SSE-ready event production.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/internal/conv"
)

// Mode distinguishes a periodic tick-driven subscription from an
// on-change one (spec.md §3).
type Mode string

const (
	ModePeriodic Mode = "periodic"
	ModeOnChange Mode = "on_change"
)

// Status is the subscription's lifecycle status.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Event is one emitted data point, in strictly increasing Sequence order
// per subscription (spec.md §5 ordering guarantees).
type Event struct {
	TimestampMS int64                  `json:"timestamp_ms"`
	Sequence    uint64                 `json:"sequence"`
	Values      map[string]interface{} `json:"values"`
}

// Subscription is one active stream (spec.md §3).
type Subscription struct {
	ID         string
	EntityID   string
	Params     []string
	RateHz     float64
	Mode       Mode
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Status     Status
	DynamicDID uint16 // 0 if none installed

	out    chan Event
	cancel context.CancelFunc
	done   chan struct{} // closed by run() once it has returned
	seq    uint64
}

// Out returns the channel events are delivered on, ordered and
// best-effort, at-least-once at the event boundary (spec.md §4.5).
func (s *Subscription) Out() <-chan Event { return s.out }

// Reader reads the current value of a single parameter, used by the
// scheduler to compose one Event per tick. Implemented by the owning
// backend (internal/backend.UDSBackend.ReadValue).
type Reader func(ctx context.Context, param string) (interface{}, error)

// DynamicDIDInstaller issues the UDS 0x2C define-by-identifier request for
// a composed target and registers its decode entry in the conversion
// store (spec.md §4.5). Implemented by the owning backend.
type DynamicDIDInstaller func(ctx context.Context, target uint16, sources []conv.DynamicSource) error

// DynamicDIDClearer releases a previously installed dynamic DID.
type DynamicDIDClearer func(ctx context.Context, target uint16) error

// Manager owns the map from subscription id to record (spec.md §3
// ownership, §5 "Subscription map: guarded by a lock").
type Manager struct {
	store *conv.Store
	read  Reader
	install DynamicDIDInstaller
	clear DynamicDIDClearer

	cron *cron.Cron

	mu   sync.RWMutex
	subs map[string]*Subscription

	nextID func() string
}

// New builds a subscription manager. idGen supplies subscription IDs
// (normally uuid.NewString).
func New(store *conv.Store, read Reader, install DynamicDIDInstaller, clear DynamicDIDClearer, idGen func() string) *Manager {
	c := cron.New(cron.WithSeconds())
	c.Start()
	return &Manager{
		store:  store,
		read:   read,
		install: install,
		clear:  clear,
		cron:   c,
		subs:   make(map[string]*Subscription),
		nextID: idGen,
	}
}

// Create validates the requested parameters against the conversion store,
// computes a schedule, and starts delivering events (spec.md §4.5).
func (m *Manager) Create(ctx context.Context, entityID string, params []string, rateHz float64, mode Mode, ttl time.Duration) (*Subscription, error) {
	if rateHz <= 0 {
		return nil, errors.InvalidRequest("subscription rate must be > 0")
	}
	if len(params) == 0 {
		return nil, errors.InvalidRequest("subscription requires at least one parameter")
	}
	for _, p := range params {
		if _, err := m.store.Resolve(p); err != nil {
			return nil, err
		}
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:        m.nextID(),
		EntityID:  entityID,
		Params:    params,
		RateHz:    rateHz,
		Mode:      mode,
		CreatedAt: time.Now(),
		Status:    StatusActive,
		out:       make(chan Event, 64),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if ttl > 0 {
		sub.ExpiresAt = sub.CreatedAt.Add(ttl)
	}

	m.mu.Lock()
	m.subs[sub.ID] = sub
	m.mu.Unlock()

	go m.run(subCtx, sub)
	return sub, nil
}

// run drives one subscription's tick loop until cancelled or expired.
// Periodic subscriptions are scheduled on the shared cron driver (an
// "@every" entry per spec.md §4.5's periodic mode); on-change
// subscriptions poll at the same cadence but only emit when a value
// differs from the last tick. Each delivered tick reads every parameter
// and emits a single ordered Event; per-item read failures are omitted
// from that tick rather than aborting the subscription (mirrors the
// batch-read "per-item failures do not abort" contract in spec.md §4.6).
func (m *Manager) run(ctx context.Context, sub *Subscription) {
	// run is sub.out's only sender, so it alone may close it; closing here
	// (rather than from Cancel) guarantees no send races a concurrent close
	// (spec.md §5 "no send on a closed subscription channel"). Registered
	// before any early return so Cancel's <-sub.done never blocks forever.
	defer close(sub.out)
	defer close(sub.done)

	periodMs := int64(1000 / sub.RateHz)
	if periodMs < 1 {
		periodMs = 1
	}
	spec := fmt.Sprintf("@every %dms", periodMs)

	tick := make(chan time.Time, 1)
	entryID, err := m.cron.AddFunc(spec, func() {
		select {
		case tick <- time.Now():
		default:
		}
	})
	if err != nil {
		return
	}
	defer m.cron.Remove(entryID)

	var last map[string]interface{}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick:
			if !sub.ExpiresAt.IsZero() && now.After(sub.ExpiresAt) {
				m.mu.Lock()
				sub.Status = StatusExpired
				m.mu.Unlock()
				return
			}
			values := make(map[string]interface{}, len(sub.Params))
			for _, p := range sub.Params {
				v, err := m.read(ctx, p)
				if err != nil {
					continue
				}
				values[p] = v
			}
			if sub.Mode == ModeOnChange && equalValues(values, last) {
				continue
			}
			last = values

			sub.seq++
			event := Event{TimestampMS: now.UnixMilli(), Sequence: sub.seq, Values: values}
			select {
			case sub.out <- event:
			default:
				// Slow consumer: drop the oldest buffered event to keep the
				// stream live rather than blocking the tick loop.
				select {
				case <-sub.out:
				default:
				}
				sub.out <- event
			}
		}
	}
}

func equalValues(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || fmt.Sprint(bv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Cancel removes the subscription and releases any dynamic DID it
// installed (spec.md §4.5).
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return errors.New(errors.CategoryEntityNotFound, "subscription not found").WithDetails("id", id)
	}
	sub.cancel()
	<-sub.done // wait for run() to observe cancellation and close sub.out itself
	if sub.DynamicDID != 0 && m.clear != nil {
		return m.clear(ctx, sub.DynamicDID)
	}
	return nil
}

// Get resolves a subscription by id.
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	return s, ok
}

// List returns a snapshot copy of active subscriptions, avoiding holding
// the lock across I/O (spec.md §5).
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out
}

// Close stops the cron driver and every active subscription.
func (m *Manager) Close() {
	m.cron.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		s.cancel()
	}
}
