package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// DoIP payload types (ISO 13400-2).
const (
	doipRoutingActivationRequest  uint16 = 0x0005
	doipRoutingActivationResponse uint16 = 0x0006
	doipAliveCheckRequest         uint16 = 0x0007
	doipAliveCheckResponse        uint16 = 0x0008
	doipDiagnosticMessage         uint16 = 0x8001
	doipDiagnosticMessageAck      uint16 = 0x8002
	doipDiagnosticMessageNak      uint16 = 0x8003
	doipVehicleIDRequest          uint16 = 0x0001
	doipVehicleAnnouncement       uint16 = 0x0004
)

const doipVersion = 0x02

// DoIPConfig configures a DoIP TCP connection to a gateway.
type DoIPConfig struct {
	Host             string
	Port             int
	SourceAddress    uint16
	TargetAddress    uint16
	TLS              bool
	AliveCheckPeriod time.Duration
	DialTimeout      time.Duration
}

// DoIP implements Adapter over DoIP (ISO 13400): routing-activation
// handshake over TCP, diagnostic-message framing, TLS fallback, periodic
// alive-check (spec.md §4.1, §6.4).
type DoIP struct {
	cfg DoIPConfig

	mu        sync.Mutex
	conn      net.Conn
	connected bool

	subsMu sync.Mutex
	subs   map[chan Incoming]struct{}
	stop   chan struct{}
}

// NewDoIP dials the gateway, performs routing activation, and starts the
// background alive-check and incoming-message loops.
func NewDoIP(ctx context.Context, cfg DoIPConfig) (*DoIP, error) {
	if cfg.AliveCheckPeriod == 0 {
		cfg.AliveCheckPeriod = 2 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	a := &DoIP{cfg: cfg, subs: make(map[chan Incoming]struct{}), stop: make(chan struct{})}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	go a.aliveCheckLoop()
	go a.receiveLoop()
	return a, nil
}

func (a *DoIP) dial(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	d := net.Dialer{Timeout: a.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if a.cfg.TLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: a.cfg.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}

func (a *DoIP) connect(ctx context.Context) error {
	conn, err := a.dial(ctx)
	if err != nil {
		// Any plaintext dial failure, including a peer that refuses
		// plaintext, is retried once over TLS (spec.md §6.4).
		if !a.cfg.TLS {
			a.cfg.TLS = true
			conn, err = a.dial(ctx)
		}
		if err != nil {
			return errors.Transport(err)
		}
	}

	payload := make([]byte, 7)
	binary.BigEndian.PutUint16(payload[0:2], a.cfg.SourceAddress)
	payload[2] = 0x00 // default activation type
	// reserved bytes 3-6 remain zero

	if err := writeDoIPFrame(conn, doipRoutingActivationRequest, payload); err != nil {
		conn.Close()
		return errors.Transport(err)
	}
	_, respPayload, err := readDoIPFrame(conn)
	if err != nil {
		conn.Close()
		return errors.Transport(err)
	}
	if len(respPayload) < 3 || respPayload[2] != 0x10 {
		conn.Close()
		return errors.Protocol("doip: routing activation denied")
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()
	return nil
}

func writeDoIPFrame(conn net.Conn, payloadType uint16, payload []byte) error {
	header := make([]byte, 8)
	header[0] = doipVersion
	header[1] = ^byte(doipVersion)
	binary.BigEndian.PutUint16(header[2:4], payloadType)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func readDoIPFrame(conn net.Conn) (uint16, []byte, error) {
	header := make([]byte, 8)
	if _, err := readFull(conn, header); err != nil {
		return 0, nil, err
	}
	payloadType := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint32(header[4:8])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := readFull(conn, payload); err != nil {
			return 0, nil, err
		}
	}
	return payloadType, payload, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *DoIP) diagnosticPayload(udsData []byte) []byte {
	payload := make([]byte, 4+len(udsData))
	binary.BigEndian.PutUint16(payload[0:2], a.cfg.SourceAddress)
	binary.BigEndian.PutUint16(payload[2:4], a.cfg.TargetAddress)
	copy(payload[4:], udsData)
	return payload
}

func (a *DoIP) SendReceive(ctx context.Context, request []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.conn == nil {
		return nil, errors.Transport(errConnectionClosed)
	}
	if deadline, ok := ctx.Deadline(); ok {
		a.conn.SetDeadline(deadline)
		defer a.conn.SetDeadline(time.Time{})
	}
	if err := writeDoIPFrame(a.conn, doipDiagnosticMessage, a.diagnosticPayload(request)); err != nil {
		a.connected = false
		return nil, errors.Transport(err)
	}
	for {
		ptype, payload, err := readDoIPFrame(a.conn)
		if err != nil {
			a.connected = false
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, errors.Timeout("doip send_receive")
			}
			return nil, errors.Transport(err)
		}
		switch ptype {
		case doipDiagnosticMessageAck:
			continue // ack for our outgoing message, keep waiting for the reply
		case doipDiagnosticMessage:
			if len(payload) < 4 {
				return nil, errors.Protocol("doip: short diagnostic message")
			}
			return payload[4:], nil
		case doipDiagnosticMessageNak:
			return nil, errors.Protocol("doip: diagnostic message negatively acknowledged")
		default:
			continue
		}
	}
}

func (a *DoIP) Send(ctx context.Context, request []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.conn == nil {
		return errors.Transport(errConnectionClosed)
	}
	if err := writeDoIPFrame(a.conn, doipDiagnosticMessage, a.diagnosticPayload(request)); err != nil {
		a.connected = false
		return errors.Transport(err)
	}
	return nil
}

func (a *DoIP) aliveCheckLoop() {
	ticker := time.NewTicker(a.cfg.AliveCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			if a.connected && a.conn != nil {
				if err := writeDoIPFrame(a.conn, doipAliveCheckRequest, nil); err != nil {
					a.connected = false
				}
			}
			a.mu.Unlock()
		}
	}
}

func (a *DoIP) receiveLoop() {
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		a.mu.Lock()
		conn := a.conn
		connected := a.connected
		a.mu.Unlock()
		if !connected || conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		ptype, payload, err := readDoIPFrame(conn)
		if err != nil {
			continue
		}
		if ptype == doipDiagnosticMessage && len(payload) >= 4 {
			a.broadcast(Incoming{Timestamp: time.Now(), Data: payload[4:], Source: a.AddressInfo()})
		}
	}
}

func (a *DoIP) broadcast(msg Incoming) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for ch := range a.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (a *DoIP) Subscribe() (<-chan Incoming, func()) {
	ch := make(chan Incoming, 64)
	a.subsMu.Lock()
	a.subs[ch] = struct{}{}
	a.subsMu.Unlock()
	return ch, func() {
		a.subsMu.Lock()
		delete(a.subs, ch)
		close(ch)
		a.subsMu.Unlock()
	}
}

func (a *DoIP) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *DoIP) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()
	return a.connect(ctx)
}

func (a *DoIP) AddressInfo() AddressInfo {
	return AddressInfo{TxID: uint32(a.cfg.SourceAddress), RxID: uint32(a.cfg.TargetAddress)}
}

// Close tears down the connection and background loops.
func (a *DoIP) Close() error {
	close(a.stop)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
