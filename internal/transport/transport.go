// Package transport implements the narrow byte-level transport adapter
// interface (spec.md §4.1): send-and-wait, fire-and-forget, an incoming
// broadcast stream, connection lifecycle, and address info. Concrete
// variants (ISO-TP/CAN, DoIP, mock) live alongside the interface.
package transport

import (
	"context"
	"time"
)

// Incoming is one asynchronously received frame (spec.md §4.1).
type Incoming struct {
	Timestamp time.Time
	Data      []byte
	Source    AddressInfo
}

// AddressInfo describes the transport-level addressing of a backend's
// connection (CAN tx/rx arbitration IDs, or a DoIP logical address).
type AddressInfo struct {
	TxID uint32
	RxID uint32
}

// Adapter is the transport-agnostic interface every UDS backend uses to
// talk to its ECU (spec.md §4.1). Implementations never interpret UDS
// semantics: byte-in, byte-out.
type Adapter interface {
	// SendReceive sends a request and waits for the matching reply, or
	// returns a timeout/transport error once ctx's deadline elapses.
	SendReceive(ctx context.Context, request []byte) ([]byte, error)

	// Send fires a request without waiting for a reply (e.g. tester
	// present with the suppress-positive-response bit set).
	Send(ctx context.Context, request []byte) error

	// Subscribe returns a channel of asynchronously received frames.
	// Multiple subscribers may be active at once; each gets every frame.
	Subscribe() (<-chan Incoming, func())

	// IsConnected reports current connection liveness.
	IsConnected() bool

	// Reconnect attempts to re-establish the transport connection.
	Reconnect(ctx context.Context) error

	// AddressInfo returns the current address configuration.
	AddressInfo() AddressInfo
}
