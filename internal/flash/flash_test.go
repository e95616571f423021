package flash

import (
	"context"
	"hash/crc32"
	"testing"
	"time"

	"github.com/r3e-network/sovd-gateway/internal/transport"
	"github.com/r3e-network/sovd-gateway/internal/uds"
)

func waitForState(t *testing.T, m *Machine, want State, timeout time.Duration) *Transfer {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tr, ok := m.Status()
		if ok && (tr.State == want || tr.State == StateAborted) {
			return tr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v", want)
	return nil
}

func newTestClient() (*uds.Client, *transport.Mock) {
	tr := transport.NewMock(transport.AddressInfo{})
	return uds.NewClient(tr, "ecu1", nil), tr
}

func TestReceiveAndVerifyPackage(t *testing.T) {
	client, _ := newTestClient()
	m := New(client, true, nil, nil, nil)

	data := []byte{1, 2, 3, 4}
	manifest := &Manifest{Version: "1.0", CRC: crc32.ChecksumIEEE(data)}
	pkg := m.ReceivePackage(data, manifest)

	got, err := m.Verify(pkg.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Verified {
		t.Fatalf("expected verified package, got %+v", got)
	}
}

func TestVerifyDetectsCRCMismatch(t *testing.T) {
	client, _ := newTestClient()
	m := New(client, true, nil, nil, nil)

	pkg := m.ReceivePackage([]byte{1, 2, 3}, &Manifest{CRC: 0xDEADBEEF})
	got, err := m.Verify(pkg.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Verified || got.Error == "" {
		t.Fatalf("expected CRC mismatch to be recorded, got %+v", got)
	}
}

func TestStartFlashRejectsUnverifiedPackage(t *testing.T) {
	client, _ := newTestClient()
	m := New(client, true, nil, nil, nil)
	pkg := m.ReceivePackage([]byte{1, 2, 3}, nil)
	if _, err := m.StartFlash(context.Background(), pkg.ID); err == nil {
		t.Fatal("expected StartFlash to reject an unverified package")
	}
}

func TestStartFlashTransfersAndFinalizes(t *testing.T) {
	client, tr := newTestClient()
	m := New(client, true, nil, nil, nil)

	data := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22, 0x33, 0x44}
	pkg := m.ReceivePackage(data, nil)
	pkg.Verified = true

	tr.AddResponse([]byte{0x34, 0x00, 0x00, 0x44, 0, 0, 0, 0, 0, 0, 0, 0x0A}, []byte{0x74, 0x10, 0x04})
	tr.AddResponse([]byte{0x36, 0x01, 0xAA, 0xBB, 0xCC, 0xDD}, []byte{0x76, 0x01})
	tr.AddResponse([]byte{0x36, 0x02, 0xEE, 0xFF, 0x11, 0x22}, []byte{0x76, 0x02})
	tr.AddResponse([]byte{0x36, 0x03, 0x33, 0x44}, []byte{0x76, 0x03})
	tr.AddResponse([]byte{0x37}, []byte{0x77})

	transfer, err := m.StartFlash(context.Background(), pkg.ID)
	if err != nil {
		t.Fatalf("start flash: %v", err)
	}
	if transfer.State != StateTransferring || transfer.BytesTransferred != 0 {
		t.Fatalf("expected an immediately-returned Transferring{bytes_transferred=0}, got %+v", transfer)
	}

	final := waitForState(t, m, StateFinalized, time.Second)
	if final.State != StateFinalized {
		t.Fatalf("expected finalized, got %+v", final)
	}
	if final.BytesTransferred != len(data) || final.BlockCount != 3 {
		t.Fatalf("unexpected transfer accounting: %+v", final)
	}
}

func TestStartFlashRejectsConcurrentTransfer(t *testing.T) {
	client, tr := newTestClient()
	m := New(client, true, nil, nil, nil)

	data := []byte{1, 2, 3, 4}
	pkg := m.ReceivePackage(data, nil)
	pkg.Verified = true
	// Delay every reply by 50ms, so the first transfer is still in
	// Transferring when the second start arrives.
	tr.SetLatency(50 * time.Millisecond)

	if _, err := m.StartFlash(context.Background(), pkg.ID); err != nil {
		t.Fatalf("first start flash: %v", err)
	}
	if _, err := m.StartFlash(context.Background(), pkg.ID); err == nil {
		t.Fatal("expected a second concurrent StartFlash to be rejected as busy")
	}
}

func TestAbortDuringLiveTransferWinsOverFinalize(t *testing.T) {
	client, tr := newTestClient()
	m := New(client, true, nil, nil, nil)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	pkg := m.ReceivePackage(data, nil)
	pkg.Verified = true

	// One byte per block forces 10 round-trips, and a uniform per-request
	// latency spreads the transfer out so Abort can land mid-loop instead
	// of racing the whole thing to completion.
	tr.SetLatency(20 * time.Millisecond)
	tr.AddResponse([]byte{0x34, 0x00, 0x00, 0x44, 0, 0, 0, 0, 0, 0, 0, 0x0A}, []byte{0x74, 0x10, 0x01})
	counter := byte(1)
	for _, b := range data {
		tr.AddResponse([]byte{0x36, counter, b}, []byte{0x76, counter})
		counter++
	}
	tr.AddResponse([]byte{0x37}, []byte{0x77})

	transfer, err := m.StartFlash(context.Background(), pkg.ID)
	if err != nil {
		t.Fatalf("start flash: %v", err)
	}
	if transfer.State != StateTransferring {
		t.Fatalf("expected an immediate Transferring state, got %+v", transfer)
	}

	// Give the background goroutine time to pass the download step and
	// land inside the per-block loop, then abort mid-flight.
	time.Sleep(60 * time.Millisecond)
	aborted := m.Abort("operator cancelled")
	if aborted == nil || aborted.State != StateAborted {
		t.Fatalf("expected Abort to observe Transferring and set Aborted, got %+v", aborted)
	}

	// The unaborted transfer would take roughly 10*20ms+40ms of latency to
	// finish; wait well past that and confirm the background goroutine
	// never clobbers the Aborted state back to Finalized.
	time.Sleep(400 * time.Millisecond)
	final, ok := m.Status()
	if !ok || final.State != StateAborted {
		t.Fatalf("expected the transfer to remain Aborted, got %+v (ok=%v)", final, ok)
	}
	if final.Error != "operator cancelled" {
		t.Fatalf("expected the original abort reason to survive, got %q", final.Error)
	}
}

func TestActivateCommitFlow(t *testing.T) {
	client, _ := newTestClient()
	resetCalled, commitCalled := false, false
	resetFn := func(ctx context.Context) error { resetCalled = true; return nil }
	commitFn := func(ctx context.Context) error { commitCalled = true; return nil }
	m := New(client, true, commitFn, nil, resetFn)

	pkg := m.ReceivePackage([]byte{1, 2}, nil)
	pkg.Verified = true
	tr := &Transfer{ID: "t1", PackageID: pkg.ID, State: StateFinalized}
	m.mu.Lock()
	m.transfer = tr
	m.mu.Unlock()

	activated, err := m.Activate(context.Background())
	if err != nil || activated.State != StateActive || !resetCalled {
		t.Fatalf("expected activation to reset and enter Active, got %+v, %v, reset=%v", activated, err, resetCalled)
	}

	committed, err := m.Commit(context.Background())
	if err != nil || committed.State != StateCommitted || !commitCalled {
		t.Fatalf("expected commit to succeed, got %+v, %v, commit=%v", committed, err, commitCalled)
	}
}

func TestRollbackRejectedWhenUnsupported(t *testing.T) {
	client, _ := newTestClient()
	m := New(client, false, nil, nil, nil)
	m.mu.Lock()
	m.transfer = &Transfer{ID: "t1", State: StateActive}
	m.mu.Unlock()

	if _, err := m.Rollback(context.Background()); err == nil {
		t.Fatal("expected rollback to be rejected when supportsRollback is false")
	}
}

func TestAbortTerminalStateIsNoOp(t *testing.T) {
	client, _ := newTestClient()
	m := New(client, true, nil, nil, nil)
	m.mu.Lock()
	m.transfer = &Transfer{ID: "t1", State: StateFinalized}
	m.mu.Unlock()

	got := m.Abort("operator cancelled")
	if got.State != StateFinalized {
		t.Fatalf("expected abort on a terminal state to be a no-op, got %+v", got)
	}
}

func TestToProgressComputesPercent(t *testing.T) {
	tr := &Transfer{State: StateTransferring, TotalBytes: 200, BytesTransferred: 50}
	p := ToProgress(tr)
	if p.Percent != 25 {
		t.Fatalf("expected 25%%, got %v", p.Percent)
	}
}
