package transport

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// CANFrame is one physical CAN frame: an 11-bit (standard) or 29-bit
// (extended) arbitration ID and up to 8 data bytes.
type CANFrame struct {
	ID   uint32
	Data []byte
}

// CANConn is the minimal socket abstraction ISOTP needs. A real deployment
// backs this with a SocketCAN raw socket; tests back it with an in-memory
// loopback. The transport adapter never speaks raw CAN itself below this
// interface (spec.md §4.1: "the adapter never decodes UDS semantics" — the
// boundary here is one level lower still, decoding ISO-TP framing only).
type CANConn interface {
	WriteFrame(CANFrame) error
	ReadFrame(ctx context.Context) (CANFrame, error)
	Close() error
}

// ISOTP implements Adapter over ISO-TP (ISO 15765-2) framing atop a CAN
// socket, with extended or standard addressing (spec.md §4.1).
type ISOTP struct {
	conn     CANConn
	txID     uint32
	rxID     uint32
	extended bool

	mu        sync.Mutex // serializes send_receive per spec.md §5 ordering
	connected bool

	subsMu sync.Mutex
	subs   map[chan Incoming]struct{}
	stop   chan struct{}
}

// NewISOTP wires an ISO-TP adapter to an already-opened CAN socket.
func NewISOTP(conn CANConn, txID, rxID uint32, extended bool) *ISOTP {
	a := &ISOTP{
		conn:      conn,
		txID:      txID,
		rxID:      rxID,
		extended:  extended,
		connected: true,
		subs:      make(map[chan Incoming]struct{}),
		stop:      make(chan struct{}),
	}
	go a.receiveLoop()
	return a
}

const (
	isotpSingleFrame      = 0x0
	isotpFirstFrame       = 0x1
	isotpConsecutiveFrame = 0x2
	isotpFlowControl      = 0x3
	isotpMaxSingleFrame   = 7
)

// segment splits a UDS PDU into ISO-TP frames: a single frame if it fits in
// 7 bytes, otherwise a first frame followed by consecutive frames.
func segment(data []byte) []CANFrame {
	if len(data) <= isotpMaxSingleFrame {
		frame := make([]byte, 8)
		frame[0] = byte(isotpSingleFrame<<4) | byte(len(data))
		copy(frame[1:], data)
		return []CANFrame{{Data: frame}}
	}

	var frames []CANFrame
	first := make([]byte, 8)
	first[0] = byte(isotpFirstFrame<<4) | byte((len(data)>>8)&0x0F)
	first[1] = byte(len(data) & 0xFF)
	copy(first[2:], data[:6])
	frames = append(frames, CANFrame{Data: first})

	remaining := data[6:]
	seq := byte(1)
	for len(remaining) > 0 {
		n := 7
		if len(remaining) < n {
			n = len(remaining)
		}
		cf := make([]byte, 8)
		cf[0] = byte(isotpConsecutiveFrame<<4) | (seq & 0x0F)
		copy(cf[1:], remaining[:n])
		frames = append(frames, CANFrame{Data: cf})
		remaining = remaining[n:]
		seq++
	}
	return frames
}

// reassembler accumulates ISO-TP frames into a complete PDU. It is a small
// state machine driven by repeated calls as frames arrive.
type reassembler struct {
	total    int
	received []byte
	active   bool
}

func (r *reassembler) feed(frame []byte) (done bool, out []byte) {
	if len(frame) == 0 {
		return false, nil
	}
	pci := frame[0] >> 4
	switch pci {
	case isotpSingleFrame:
		n := int(frame[0] & 0x0F)
		if n > len(frame)-1 {
			n = len(frame) - 1
		}
		return true, append([]byte(nil), frame[1:1+n]...)
	case isotpFirstFrame:
		r.total = (int(frame[0]&0x0F) << 8) | int(frame[1])
		r.received = append([]byte(nil), frame[2:]...)
		r.active = true
		return false, nil
	case isotpConsecutiveFrame:
		if !r.active {
			return false, nil
		}
		r.received = append(r.received, frame[1:]...)
		if len(r.received) >= r.total {
			out := r.received[:r.total]
			r.active = false
			return true, out
		}
		return false, nil
	default:
		return false, nil
	}
}

func (a *ISOTP) SendReceive(ctx context.Context, request []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsConnected() {
		return nil, errors.Transport(errConnectionClosed)
	}

	for _, f := range segment(request) {
		f.ID = a.txID
		if err := a.conn.WriteFrame(f); err != nil {
			return nil, errors.Transport(err)
		}
	}

	var asm reassembler
	for {
		frame, err := a.conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Timeout("isotp send_receive")
			}
			return nil, errors.Transport(err)
		}
		if frame.ID != a.rxID {
			continue
		}
		done, out := asm.feed(frame.Data)
		if done {
			return out, nil
		}
	}
}

func (a *ISOTP) Send(ctx context.Context, request []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.IsConnected() {
		return errors.Transport(errConnectionClosed)
	}
	for _, f := range segment(request) {
		f.ID = a.txID
		if err := a.conn.WriteFrame(f); err != nil {
			return errors.Transport(err)
		}
	}
	return nil
}

// receiveLoop forwards every fully reassembled incoming PDU on the rx ID to
// subscribers, independent of any in-flight SendReceive call (periodic
// replies and event-on-request use this path, spec.md §4.1, §4.5).
func (a *ISOTP) receiveLoop() {
	var asm reassembler
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		frame, err := a.conn.ReadFrame(ctx)
		cancel()
		if err != nil {
			continue
		}
		if frame.ID != a.rxID {
			continue
		}
		done, out := asm.feed(frame.Data)
		if !done {
			continue
		}
		a.broadcast(Incoming{Timestamp: time.Now(), Data: out, Source: a.AddressInfo()})
	}
}

func (a *ISOTP) broadcast(msg Incoming) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for ch := range a.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (a *ISOTP) Subscribe() (<-chan Incoming, func()) {
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

func (a *ISOTP) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *ISOTP) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *ISOTP) AddressInfo() AddressInfo { return AddressInfo{TxID: a.txID, RxID: a.rxID} }

// Close stops the receive loop and releases the underlying CAN socket.
func (a *ISOTP) Close() error {
	close(a.stop)
	return a.conn.Close()
}
