package uds

import (
	"context"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/metrics"
	"github.com/r3e-network/sovd-gateway/internal/transport"
)

// maxResponsePendingRearms bounds NRC 0x78 re-arms independent of the
// overall deadline, defeating an oscillating peer (spec.md §9 Open
// Question (c), §5 cancellation/timeouts).
const maxResponsePendingRearms = 10

// DefaultDeadline is the overall per-request deadline used when a caller
// does not supply one (spec.md §5: "default ~5 s").
const DefaultDeadline = 5 * time.Second

// Client issues UDS requests over a transport adapter, consuming NRC 0x78
// ("response pending") internally by re-arming the wait (spec.md §4.2).
// EntityID labels the UDS request/negative-response metrics this client
// records (infrastructure/metrics), so it should be set to the owning
// backend's component id.
type Client struct {
	Transport transport.Adapter
	EntityID  string
	Metrics   *metrics.Metrics
}

// NewClient wraps a transport adapter in the UDS service layer. metrics
// may be nil, in which case UDS request/negative-response counters are
// skipped (spec.md §6.1 "domain counters... UDS requests by SID, UDS
// negative responses by NRC").
func NewClient(t transport.Adapter, entityID string, m *metrics.Metrics) *Client {
	return &Client{Transport: t, EntityID: entityID, Metrics: m}
}

// Do sends request and classifies the reply, resetting the wait on NRC
// 0x78 up to maxResponsePendingRearms times, bounded overall by a
// per-request deadline applied automatically when ctx carries none
// (spec.md §5 "Every UDS operation carries an overall deadline"). The
// 0x78 reply itself is never surfaced to the caller.
func (c *Client) Do(ctx context.Context, service ServiceID, request []byte) (Response, error) {
	ctx, cancel := WithDeadline(ctx)
	defer cancel()

	start := time.Now()
	rearms := 0
	for {
		raw, err := c.Transport.SendReceive(ctx, request)
		if err != nil {
			return Response{}, err
		}
		resp := Classify(service, raw)
		switch resp.Kind {
		case KindMalformed:
			return Response{}, errors.Protocol("uds: malformed response")
		case KindNegative:
			if IsResponsePending(resp.NRC) {
				rearms++
				if rearms > maxResponsePendingRearms {
					c.recordResult(service, "timeout", start)
					return Response{}, errors.Timeout("uds: exceeded response-pending re-arm limit")
				}
				continue
			}
			c.recordResult(service, "negative", start)
			if c.Metrics != nil {
				c.Metrics.RecordUDSNegative(c.EntityID, byte(service), resp.NRC)
			}
			return resp, errNRC(resp)
		default:
			c.recordResult(service, "positive", start)
			return resp, nil
		}
	}
}

func (c *Client) recordResult(service ServiceID, status string, start time.Time) {
	if c.Metrics != nil {
		c.Metrics.RecordUDSRequest(c.EntityID, byte(service), status, time.Since(start))
	}
}

// errNRC builds the appropriate DiagError for a classified negative
// response. Security level context, when relevant, is attached by the
// caller (the session/security state machine knows the pending level);
// here we default to 0 since the generic client has no session context.
func errNRC(resp Response) error {
	return ErrorForNRC(resp.Service, resp.NRC, 0)
}

// WithDeadline returns a context bounded by DefaultDeadline if ctx has no
// deadline of its own.
func WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultDeadline)
}
