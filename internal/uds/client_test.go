package uds

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/internal/transport"
)

func TestClientDoPositive(t *testing.T) {
	tr := transport.NewMock(transport.AddressInfo{TxID: 0x7E0, RxID: 0x7E8})
	client := NewClient(tr, "ecu1", nil)
	resp, err := client.Do(context.Background(), DiagnosticSessionControl, Request(DiagnosticSessionControl, Sub(SessionExtended), nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != KindPositive {
		t.Fatalf("expected positive response, got %v", resp.Kind)
	}
}

func TestClientDoNegative(t *testing.T) {
	tr := transport.NewMock(transport.AddressInfo{})
	tr.AddResponse([]byte{0x22, 0xFF, 0xFF}, NegativeResponse(ReadDataByID, NRCRequestOutOfRange))
	client := NewClient(tr, "ecu1", nil)
	_, err := client.Do(context.Background(), ReadDataByID, Request(ReadDataByID, nil, []byte{0xFF, 0xFF}))
	de := errors.AsDiagError(err)
	if de == nil || de.Category != errors.CategoryInvalidRequest {
		t.Fatalf("expected invalid-request category, got %+v", de)
	}
}

// TestClientDoExceedsRearmLimit pins spec.md §9 Open Question (c): NRC
// 0x78 re-arms are capped at 10 regardless of the overall deadline. The
// mock always answers with 0x78, so the loop must give up on its own
// counter rather than hang until ctx expires.
func TestClientDoExceedsRearmLimit(t *testing.T) {
	tr := transport.NewMock(transport.AddressInfo{})
	tr.AddResponse([]byte{0x31, 0x01}, NegativeResponse(RoutineControl, NRCResponsePending))

	client := NewClient(tr, "ecu1", nil)
	start := time.Now()
	_, err := client.Do(context.Background(), RoutineControl, []byte{0x31, 0x01})
	elapsed := time.Since(start)

	de := errors.AsDiagError(err)
	if de == nil || de.Category != errors.CategoryTimeout {
		t.Fatalf("expected timeout category, got %+v", de)
	}
	if elapsed > time.Second {
		t.Fatalf("rearm cap should trip well before the overall deadline, took %v", elapsed)
	}
}

func TestWithDeadlineAppliesDefault(t *testing.T) {
	ctx, cancel := WithDeadline(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline to be set")
	}
	if time.Until(deadline) <= 0 {
		t.Fatalf("expected a future deadline, got %v", deadline)
	}
}

func TestWithDeadlinePreservesExisting(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx, cancel2 := WithDeadline(parent)
	defer cancel2()
	d1, _ := parent.Deadline()
	d2, _ := ctx.Deadline()
	if d1 != d2 {
		t.Fatalf("expected WithDeadline to preserve the caller's deadline, got %v vs %v", d1, d2)
	}
}
