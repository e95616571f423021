// Package session implements the UDS session / security / link-control
// state machine (spec.md §4.4): strictly controlled session transitions,
// seed/key security access, a tester-present keepalive timer, and link
// baud-rate staging.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/logging"
	"github.com/r3e-network/sovd-gateway/infrastructure/ratelimit"
	"github.com/r3e-network/sovd-gateway/internal/uds"
)

// Kind is the UDS session variant (spec.md §3).
type Kind string

const (
	Default     Kind = "default"
	Programming Kind = "programming"
	Extended    Kind = "extended"
	Engineering Kind = "engineering"
)

// SecurityKind is the security-access variant (spec.md §3).
type SecurityKind string

const (
	Locked     SecurityKind = "locked"
	SeedIssued SecurityKind = "seed_issued"
	Unlocked   SecurityKind = "unlocked"
)

// Security describes the current seed/key state.
type Security struct {
	Kind  SecurityKind
	Level int // the odd seed-request sub-function L, valid once Kind != Locked
}

// State is a point-in-time snapshot of the session/security/link machine,
// safe to copy and hand to an HTTP response.
type State struct {
	Session      Kind
	Security     Security
	CurrentBaud  byte
	PendingBaud  byte
	HasPending   bool
}

// KeySigner computes a security-access key from a secret and the seed the
// ECU issued. It is an externally supplied hook (spec.md §1 Non-goals: "no
// cryptographic seed/key algorithm library... the computation is a
// pluggable hook").
type KeySigner func(secret, seed []byte) ([]byte, error)

// Machine owns one ECU's session/security/link state and its
// tester-present keepalive timer (spec.md §4.4). Session state is guarded
// by a lock held across the whole request/response cycle of a
// session-control operation, per spec.md §5.
type Machine struct {
	client *uds.Client
	log    *logging.Logger
	signer KeySigner

	mu    sync.Mutex
	state State

	keepalivePeriod time.Duration
	failures        int

	// securityLimiter caps every seed request at 1 per second (burst 3),
	// whatever the ECU answered before, using infrastructure/ratelimit's
	// token-bucket wrapper.
	securityLimiter *ratelimit.RateLimiter

	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a session machine bound to a UDS client. keepalivePeriod
// defaults to 2s, the safe P2*-derived default from spec.md §4.4.
func New(client *uds.Client, log *logging.Logger, signer KeySigner, keepalivePeriod time.Duration) *Machine {
	if keepalivePeriod <= 0 {
		keepalivePeriod = 2 * time.Second
	}
	m := &Machine{
		client:          client,
		log:             log,
		signer:          signer,
		state:           State{Session: Default, Security: Security{Kind: Locked}},
		keepalivePeriod: keepalivePeriod,
		securityLimiter: ratelimit.New(ratelimit.RateLimitConfig{RequestsPerSecond: 1, Burst: 3}),
		stop:            make(chan struct{}),
	}
	go m.keepaliveLoop()
	return m
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// subFunctionForKind maps a target session kind to its 0x10 sub-function.
func subFunctionForKind(k Kind) byte {
	switch k {
	case Default:
		return uds.SessionDefault
	case Programming:
		return uds.SessionProgramming
	case Extended:
		return uds.SessionExtended
	case Engineering:
		return uds.SessionEngineering
	}
	return uds.SessionDefault
}

// checkTransition enforces the diagram in spec.md §4.4: Default<->Extended,
// Extended->Programming, any state->Engineering, Engineering leaves to
// Default. Programming returns to Default directly (not to Extended).
func checkTransition(from, to Kind) error {
	if to == Engineering {
		return nil // reachable from any state
	}
	switch from {
	case Default:
		if to == Extended || to == Default {
			return nil
		}
	case Extended:
		if to == Programming || to == Default {
			return nil
		}
	case Programming:
		if to == Default {
			return nil
		}
	case Engineering:
		if to == Default {
			return nil
		}
	}
	return errors.InvalidRequest("session transition " + string(from) + " -> " + string(to) + " is not permitted")
}

// ChangeSession issues a 0x10 diagnostic-session-control request for the
// target session, validating the transition first (spec.md §4.4). Any
// session change clears security.
func (m *Machine) ChangeSession(ctx context.Context, to Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkTransition(m.state.Session, to); err != nil {
		return err
	}

	sub := subFunctionForKind(to)
	req := uds.Request(uds.DiagnosticSessionControl, &sub, nil)
	resp, err := m.client.Do(ctx, uds.DiagnosticSessionControl, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("session control: unexpected reply shape")
	}

	m.state.Session = to
	m.state.Security = Security{Kind: Locked}
	m.failures = 0
	return nil
}

// RequestSeed issues a security-access seed request for sub-function level
// L (odd, 1..=63), transitioning Locked -> SeedIssued(L).
func (m *Machine) RequestSeed(ctx context.Context, level int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level < 1 || level > 63 || level%2 == 0 {
		return nil, errors.InvalidRequest("security level must be odd, in 1..=63")
	}
	if !m.securityLimiter.Allow() {
		return nil, errors.RateLimited("security access attempts throttled")
	}
	sub := byte(level)
	req := uds.Request(uds.SecurityAccess, &sub, nil)
	resp, err := m.client.Do(ctx, uds.SecurityAccess, req)
	if err != nil {
		if de := errors.AsDiagError(err); de != nil && de.Category == errors.CategorySecurityRequired {
			return nil, errors.SecurityRequired(level)
		}
		return nil, err
	}
	if resp.Kind != uds.KindPositive || len(resp.Data) < 1 {
		return nil, errors.Protocol("security access: malformed seed response")
	}
	seed := resp.Data[1:]
	m.state.Security = Security{Kind: SeedIssued, Level: level}
	return seed, nil
}

// SendKey computes the key via the configured signer and issues
// sub-function L+1. Success unlocks; NRC 0x35 relocks; NRC 0x36/0x37
// preserves state and surfaces rate-limited (spec.md §4.4).
func (m *Machine) SendKey(ctx context.Context, secret, seed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Security.Kind != SeedIssued {
		return errors.Conflict("no outstanding seed to answer")
	}
	level := m.state.Security.Level
	key, err := m.signer(secret, seed)
	if err != nil {
		return errors.Internal("key computation failed", err)
	}

	sub := byte(level + 1)
	req := uds.Request(uds.SecurityAccess, &sub, key)
	resp, doErr := m.client.Do(ctx, uds.SecurityAccess, req)
	if doErr != nil {
		de := errors.AsDiagError(doErr)
		if de != nil && de.Category == errors.CategorySecurityRequired {
			m.state.Security = Security{Kind: Locked}
		}
		return doErr
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("security access: unexpected key-accept reply shape")
	}
	m.state.Security = Security{Kind: Unlocked, Level: level}
	return nil
}

// VerifyBaud stages a pending link baud rate (LinkControl sub-function
// 0x01/0x02).
func (m *Machine) VerifyBaud(ctx context.Context, baud byte, specific bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := uds.LinkVerifyFixedBaud
	if specific {
		sub = uds.LinkVerifySpecificBaud
	}
	subByte := byte(sub)
	req := uds.Request(uds.LinkControl, &subByte, []byte{baud})
	resp, err := m.client.Do(ctx, uds.LinkControl, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("link control: verify failed")
	}
	m.state.PendingBaud = baud
	m.state.HasPending = true
	return nil
}

// TransitionBaud applies the previously verified baud rate.
func (m *Machine) TransitionBaud(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.HasPending {
		return errors.Conflict("no pending baud rate staged")
	}
	sub := byte(uds.LinkTransitionBaud)
	req := uds.Request(uds.LinkControl, &sub, nil)
	resp, err := m.client.Do(ctx, uds.LinkControl, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("link control: transition failed")
	}
	m.state.CurrentBaud = m.state.PendingBaud
	m.state.HasPending = false
	return nil
}

// RequireSession returns a session-required error if the current session
// does not match want (spec.md §4.6 precondition enforcement).
func (m *Machine) RequireSession(want Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Session != want {
		return errors.SessionRequired(string(want))
	}
	return nil
}

// RequireSecurity returns a security-required error unless the current
// state is Unlocked at >= the given level.
func (m *Machine) RequireSecurity(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if level <= 0 {
		return nil
	}
	if m.state.Security.Kind != Unlocked || m.state.Security.Level < level {
		return errors.SecurityRequired(level)
	}
	return nil
}

func nrcFromErr(err error) byte {
	de := errors.AsDiagError(err)
	if de != nil {
		return de.NRC
	}
	return 0
}

// keepaliveLoop issues tester-present on a timer shorter than P2* whenever
// the session is not Default (spec.md §4.4, §8 "session guard" invariant).
// Two consecutive failures (or a reported reset) return the machine to
// Default and clear security.
func (m *Machine) keepaliveLoop() {
	ticker := time.NewTicker(m.keepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Machine) tick() {
	m.mu.Lock()
	session := m.state.Session
	m.mu.Unlock()
	if session == Default {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.keepalivePeriod)
	defer cancel()
	sub := byte(0x80) // suppress positive response
	req := uds.Request(uds.TesterPresent, &sub, nil)
	err := m.client.Transport.Send(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failures++
		if m.log != nil {
			m.log.WithError(err).Warn("tester-present keepalive failed")
		}
		if m.failures >= 2 {
			m.state.Session = Default
			m.state.Security = Security{Kind: Locked}
			m.failures = 0
		}
		return
	}
	m.failures = 0
}

// NotifyReset tells the machine the transport reported an ECU reset,
// immediately returning to Default and clearing security.
func (m *Machine) NotifyReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Session = Default
	m.state.Security = Security{Kind: Locked}
	m.failures = 0
}

// Close stops the keepalive loop.
func (m *Machine) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
