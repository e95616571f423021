// Package flash implements the asynchronous flash state machine (spec.md
// §4.9): file staging, verification, transfer, finalize, activation, and
// commit/rollback.
package flash

import (
	"context"
	"hash/crc32"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/internal/uds"
)

// State is the flash transfer's lifecycle state (spec.md §4.9).
type State string

const (
	StateIdle         State = "idle"
	StateStaged       State = "staged"
	StateVerified     State = "verified"
	StateTransferring State = "transferring"
	StateFinalized    State = "finalized"
	StateAborted      State = "aborted"
	StateActive       State = "active"
	StateCommitted    State = "committed"
)

// Manifest describes a staged firmware package (spec.md §3).
type Manifest struct {
	Version       string
	CRC           uint32
	TargetECU     string
	MemoryAddress uint32
}

// Package is a staged artifact awaiting verification (spec.md §3).
type Package struct {
	ID       string
	Bytes    []byte
	Manifest *Manifest
	Verified bool
	Error    string
}

// Transfer tracks one in-flight or completed flash transfer (spec.md §3).
type Transfer struct {
	ID               string
	PackageID        string
	TotalBytes       int
	BytesTransferred int
	BlockCount       int
	State            State
	Error            string
	StartedAt        time.Time
	UpdatedAt        time.Time
	PreviousVersion  string

	// cancel signals the background runTransfer goroutine to stop before
	// its next block write (spec.md §4.9: an abort must win the race
	// against an in-flight transfer rather than being silently clobbered
	// by its eventual Finalized transition).
	cancel context.CancelFunc
}

// Progress is the polling DTO exposed over HTTP (spec.md §4.9).
type Progress struct {
	State            State     `json:"state"`
	BytesTotal       int       `json:"bytes_total"`
	BytesTransferred int       `json:"bytes_transferred"`
	Percent          float64   `json:"percent"`
	BlockCount       int       `json:"block_count"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CommitRoutine issues the backend's declared commit/rollback routine.
type CommitRoutine func(ctx context.Context) error

// Machine owns a single backend's flash session: at most one active
// transfer at a time (spec.md §4.9 concurrency).
type Machine struct {
	client *uds.Client

	supportsRollback bool
	commitFn         CommitRoutine
	rollbackFn       CommitRoutine
	resetFn          func(ctx context.Context) error

	mu       sync.Mutex
	packages map[string]*Package
	transfer *Transfer
}

// New builds a flash state machine bound to a UDS client and the backend's
// configured commit/rollback/reset hooks.
func New(client *uds.Client, supportsRollback bool, commitFn, rollbackFn CommitRoutine, resetFn func(ctx context.Context) error) *Machine {
	return &Machine{
		client:           client,
		supportsRollback: supportsRollback,
		commitFn:         commitFn,
		rollbackFn:       rollbackFn,
		resetFn:          resetFn,
		packages:         make(map[string]*Package),
	}
}

// ReceivePackage stages an uploaded file (spec.md §4.9: Idle --receive_package--> Staged).
func (m *Machine) ReceivePackage(data []byte, manifest *Manifest) *Package {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg := &Package{ID: uuid.NewString(), Bytes: data, Manifest: manifest}
	m.packages[pkg.ID] = pkg
	return pkg
}

// Package returns a staged package by id.
func (m *Machine) Package(id string) (*Package, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[id]
	return p, ok
}

// DeletePackage removes a staged package.
func (m *Machine) DeletePackage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[id]; !ok {
		return errors.New(errors.CategoryEntityNotFound, "package not found").WithDetails("id", id)
	}
	delete(m.packages, id)
	return nil
}

// Verify checks the package's manifest CRC against its bytes
// (Staged --verify--> Verified, or Staged with error recorded on failure).
func (m *Machine) Verify(id string) (*Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[id]
	if !ok {
		return nil, errors.New(errors.CategoryEntityNotFound, "package not found").WithDetails("id", id)
	}
	if pkg.Manifest == nil {
		pkg.Error = "no manifest to verify against"
		return pkg, nil
	}
	sum := crc32.ChecksumIEEE(pkg.Bytes)
	if sum != pkg.Manifest.CRC {
		pkg.Error = "CRC mismatch"
		pkg.Verified = false
		return pkg, nil
	}
	pkg.Verified = true
	pkg.Error = ""
	return pkg, nil
}

const defaultMaxBlockLength = 512

// StartFlash begins streaming a verified package's bytes to the ECU:
// request download (0x34), then transfer-data (0x36) blocks whose
// sequence counter wraps 0xFF -> 0x00 (spec.md §4.9). At most one
// transfer may be active per backend. The transfer runs in the
// background so the caller (the HTTP handler) gets back a
// Transferring{bytes_transferred=0} transfer immediately and polls
// GetTransfer/Status for progress, rather than blocking for the whole
// upload (spec.md §4.9 state diagram).
func (m *Machine) StartFlash(ctx context.Context, packageID string) (*Transfer, error) {
	m.mu.Lock()
	pkg, ok := m.packages[packageID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.New(errors.CategoryEntityNotFound, "package not found").WithDetails("id", packageID)
	}
	if !pkg.Verified {
		m.mu.Unlock()
		return nil, errors.InvalidRequest("package has not been verified")
	}
	if m.transfer != nil && m.transfer.State == StateTransferring {
		m.mu.Unlock()
		return nil, errors.Busy("flash transfer")
	}

	transferCtx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	tr := &Transfer{
		ID:         uuid.NewString(),
		PackageID:  packageID,
		TotalBytes: len(pkg.Bytes),
		State:      StateTransferring,
		StartedAt:  now,
		UpdatedAt:  now,
		cancel:     cancel,
	}
	m.transfer = tr
	m.mu.Unlock()

	go m.runTransfer(transferCtx, tr, pkg)
	return tr, nil
}

// runTransfer performs the blocking UDS exchange in the background. The
// context is detached from the triggering HTTP request (which returns long
// before the transfer completes) but is cancelled by Abort, so a running
// transfer still observes an abort before its next block write; each
// individual UDS exchange still gets its own default deadline via
// uds.Client.Do.
func (m *Machine) runTransfer(ctx context.Context, tr *Transfer, pkg *Package) {
	maxBlockLen, err := m.requestDownload(ctx, pkg)
	if err != nil {
		m.fail(tr, err)
		return
	}
	if maxBlockLen <= 0 {
		maxBlockLen = defaultMaxBlockLength
	}

	if err := m.transferBlocks(ctx, tr, pkg.Bytes, maxBlockLen); err != nil {
		m.fail(tr, err)
	}
}

func (m *Machine) requestDownload(ctx context.Context, pkg *Package) (int, error) {
	data := make([]byte, 0, 9)
	data = append(data, 0x00) // dataFormatIdentifier
	data = append(data, 0x44) // addressAndLengthFormatIdentifier: 4-byte addr, 4-byte size
	addr := uint32(0)
	size := uint32(len(pkg.Bytes))
	if pkg.Manifest != nil {
		addr = pkg.Manifest.MemoryAddress
	}
	data = append(data, byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
	data = append(data, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))

	sub := byte(0x00)
	req := uds.Request(uds.RequestDownload, &sub, data)
	resp, err := m.client.Do(ctx, uds.RequestDownload, req)
	if err != nil {
		return 0, err
	}
	if resp.Kind != uds.KindPositive || len(resp.Data) < 2 {
		return 0, errors.Protocol("request download: malformed response")
	}
	lengthFormat := resp.Data[0] >> 4
	if int(lengthFormat) > len(resp.Data)-1 {
		return 0, errors.Protocol("request download: malformed max-block-length field")
	}
	maxLen := 0
	for i := 0; i < int(lengthFormat); i++ {
		maxLen = (maxLen << 8) | int(resp.Data[1+i])
	}
	return maxLen, nil
}

func (m *Machine) transferBlocks(ctx context.Context, tr *Transfer, data []byte, maxBlockLen int) error {
	counter := byte(1)
	offset := 0
	for offset < len(data) {
		if ctx.Err() != nil {
			return nil
		}
		n := maxBlockLen
		if remaining := len(data) - offset; remaining < n {
			n = remaining
		}
		chunk := data[offset : offset+n]
		req := uds.Request(uds.TransferData, &counter, chunk)
		resp, err := m.client.Do(ctx, uds.TransferData, req)
		if err != nil {
			de := errors.AsDiagError(err)
			if de != nil && de.Category == errors.CategoryECUError && de.NRC == uds.NRCWrongBlockSequenceCounter {
				return errors.Protocol("transfer data: wrong block sequence counter")
			}
			return err
		}
		if resp.Kind != uds.KindPositive {
			return errors.Protocol("transfer data: unexpected reply shape")
		}

		offset += n
		m.mu.Lock()
		tr.BytesTransferred = offset
		tr.BlockCount++
		tr.UpdatedAt = time.Now()
		m.mu.Unlock()

		if counter == 0xFF {
			counter = 0x00
		} else {
			counter++
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	req := uds.Request(uds.RequestTransferExit, nil, nil)
	resp, err := m.client.Do(ctx, uds.RequestTransferExit, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("request transfer exit: unexpected reply shape")
	}

	m.mu.Lock()
	if tr.State != StateAborted {
		tr.State = StateFinalized
		tr.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
	return nil
}

func (m *Machine) fail(tr *Transfer, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tr.State == StateAborted {
		return
	}
	tr.State = StateAborted
	tr.Error = err.Error()
	tr.UpdatedAt = time.Now()
}

// Abort cancels an in-flight transfer. Aborting a terminal state is a
// no-op returning the current state, not an error (spec.md §4.9).
func (m *Machine) Abort(reason string) *Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transfer == nil {
		return nil
	}
	if m.transfer.State != StateTransferring {
		return m.transfer
	}
	m.transfer.State = StateAborted
	m.transfer.Error = reason
	m.transfer.UpdatedAt = time.Now()
	if m.transfer.cancel != nil {
		m.transfer.cancel()
	}
	return m.transfer
}

// Activate resets the ECU to run the newly finalized firmware
// (Finalized --activate--> Active).
func (m *Machine) Activate(ctx context.Context) (*Transfer, error) {
	m.mu.Lock()
	tr := m.transfer
	if tr == nil || tr.State != StateFinalized {
		m.mu.Unlock()
		return nil, errors.Conflict("no finalized transfer to activate")
	}
	m.mu.Unlock()

	if m.resetFn != nil {
		if err := m.resetFn(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	tr.State = StateActive
	tr.UpdatedAt = time.Now()
	m.mu.Unlock()
	return tr, nil
}

// Commit makes the active firmware permanent (Active --commit--> Committed,
// rollback no longer possible).
func (m *Machine) Commit(ctx context.Context) (*Transfer, error) {
	m.mu.Lock()
	tr := m.transfer
	if tr == nil || tr.State != StateActive {
		m.mu.Unlock()
		return nil, errors.Conflict("no active transfer to commit")
	}
	m.mu.Unlock()

	if m.commitFn != nil {
		if err := m.commitFn(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	tr.State = StateCommitted
	tr.UpdatedAt = time.Now()
	m.mu.Unlock()
	return tr, nil
}

// Rollback restores the previous firmware (Active --rollback--> Idle).
// Fails with not-supported when the backend declares supports_rollback=false.
func (m *Machine) Rollback(ctx context.Context) (*Transfer, error) {
	if !m.supportsRollback {
		return nil, errors.NotSupported("rollback")
	}
	m.mu.Lock()
	tr := m.transfer
	if tr == nil || tr.State != StateActive {
		m.mu.Unlock()
		return nil, errors.Conflict("no active transfer to roll back")
	}
	m.mu.Unlock()

	if m.rollbackFn != nil {
		if err := m.rollbackFn(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	tr.State = StateIdle
	tr.UpdatedAt = time.Now()
	m.mu.Unlock()
	return tr, nil
}

// Status returns the current transfer and whether one exists; ToProgress
// renders it as the progress DTO.
func (m *Machine) Status() (*Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transfer == nil {
		return nil, false
	}
	return m.transfer, true
}

// ToProgress renders a Transfer as the polling DTO (spec.md §4.9).
func ToProgress(tr *Transfer) Progress {
	percent := 0.0
	if tr.TotalBytes > 0 {
		percent = float64(tr.BytesTransferred) / float64(tr.TotalBytes) * 100
	}
	return Progress{
		State:            tr.State,
		BytesTotal:       tr.TotalBytes,
		BytesTransferred: tr.BytesTransferred,
		Percent:          percent,
		BlockCount:       tr.BlockCount,
		Error:            tr.Error,
		StartedAt:        tr.StartedAt,
		UpdatedAt:        tr.UpdatedAt,
	}
}
