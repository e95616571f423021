package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// responseRule is one canned request->response mapping.
type responseRule struct {
	request  []byte
	response []byte
}

// Mock is a pattern-matched canned-response transport for tests
// (spec.md §4.1): exact-match preferred, prefix match next, synthetic
// positive response as a fallback.
type Mock struct {
	mu        sync.RWMutex
	connected bool
	latency   time.Duration
	addr      AddressInfo
	rules     []responseRule

	subs   map[chan Incoming]struct{}
	subsMu sync.Mutex
}

// NewMock builds a mock transport pre-seeded with the canonical canned
// responses used by the example ECU (spec.md §4.1, scenario fixtures).
func NewMock(addr AddressInfo) *Mock {
	m := &Mock{
		connected: true,
		addr:      addr,
		subs:      make(map[chan Incoming]struct{}),
	}
	m.rules = defaultResponses()
	return m
}

func defaultResponses() []responseRule {
	return []responseRule{
		{[]byte{0x10, 0x01}, []byte{0x50, 0x01, 0x00, 0x19, 0x01, 0xF4}},
		{[]byte{0x10, 0x02}, []byte{0x50, 0x02, 0x00, 0x19, 0x01, 0xF4}},
		{[]byte{0x10, 0x03}, []byte{0x50, 0x03, 0x00, 0x19, 0x01, 0xF4}},
		{[]byte{0x10, 0x60}, []byte{0x50, 0x60, 0x00, 0x19, 0x01, 0xF4}},
		{[]byte{0x3E, 0x00}, []byte{0x7E, 0x00}},
		{[]byte{0x3E, 0x80}, []byte{}},
		{append([]byte{0x22, 0xF1, 0x90}), append([]byte{0x62, 0xF1, 0x90}, []byte("WF0XXXGCDX1234567")...)},
		{[]byte{0x22, 0xF4, 0x0C}, []byte{0x62, 0xF4, 0x0C, 0x0B, 0xB8}},
		{[]byte{0x22, 0xF4, 0x05}, []byte{0x62, 0xF4, 0x05, 0x84}},
		{[]byte{0x14, 0xFF, 0xFF, 0xFF}, []byte{0x54}},
		{
			[]byte{0x19, 0x02, 0xFF},
			[]byte{0x59, 0x02, 0xFF, 0x01, 0x23, 0x45, 0x09, 0x06, 0x78, 0x90, 0x28},
		},
	}
}

// AddResponse registers a request->response rule, first exact-match wins.
func (m *Mock) AddResponse(request, response []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]responseRule{{request, response}}, m.rules...)
}

// SetLatency simulates a fixed per-call delay.
func (m *Mock) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetConnected forces the connection state, for failure-injection tests.
func (m *Mock) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// InjectIncoming broadcasts a synthetic asynchronous frame to subscribers.
func (m *Mock) InjectIncoming(data []byte) {
	msg := Incoming{Timestamp: time.Now(), Data: data, Source: m.addr}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (m *Mock) findResponse(request []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if bytes.Equal(r.request, request) {
			return r.response, true
		}
	}
	for _, r := range m.rules {
		if bytes.HasPrefix(request, r.request) {
			return r.response, true
		}
	}
	if len(request) > 0 {
		return []byte{request[0] + 0x40}, true
	}
	return nil, false
}

func (m *Mock) SendReceive(ctx context.Context, request []byte) ([]byte, error) {
	m.mu.RLock()
	connected, latency := m.connected, m.latency
	m.mu.RUnlock()
	if !connected {
		return nil, errors.Transport(errConnectionClosed)
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, errors.Timeout("send_receive")
		}
	}
	resp, ok := m.findResponse(request)
	if !ok {
		return nil, errors.Protocol("mock: no response configured for request")
	}
	return resp, nil
}

func (m *Mock) Send(ctx context.Context, request []byte) error {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	if !connected {
		return errors.Transport(errConnectionClosed)
	}
	return nil
}

func (m *Mock) Subscribe() (<-chan Incoming, func()) {
	ch := make(chan Incoming, 64)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	cancel := func() {
		m.subsMu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.subsMu.Unlock()
	}
	return ch, cancel
}

func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Mock) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) AddressInfo() AddressInfo { return m.addr }
