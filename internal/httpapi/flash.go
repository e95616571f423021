package httpapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
	"github.com/r3e-network/sovd-gateway/internal/flash"
)

func (s *Server) flashMachine(backend interface{}) (*flash.Machine, error) {
	owner, ok := backend.(flashOwner)
	if !ok {
		return nil, errors.NotSupported("flash")
	}
	return owner.Flash(), nil
}

type manifestDTO struct {
	Version       string `json:"version,omitempty"`
	CRC           uint32 `json:"crc,omitempty"`
	TargetECU     string `json:"target_ecu,omitempty"`
	MemoryAddress uint32 `json:"memory_address,omitempty"`
}

type packageDTO struct {
	ID       string       `json:"id"`
	Size     int          `json:"size"`
	Manifest *manifestDTO `json:"manifest,omitempty"`
	Verified bool         `json:"verified"`
	Error    string       `json:"error,omitempty"`
}

func packageToDTO(pkg *flash.Package) packageDTO {
	dto := packageDTO{ID: pkg.ID, Size: len(pkg.Bytes), Verified: pkg.Verified, Error: pkg.Error}
	if pkg.Manifest != nil {
		dto.Manifest = &manifestDTO{
			Version: pkg.Manifest.Version, CRC: pkg.Manifest.CRC,
			TargetECU: pkg.Manifest.TargetECU, MemoryAddress: pkg.Manifest.MemoryAddress,
		}
	}
	return dto
}

type transferDTO struct {
	ID               string    `json:"id"`
	PackageID        string    `json:"package_id"`
	State            string    `json:"state"`
	BytesTotal       int       `json:"bytes_total"`
	BytesTransferred int       `json:"bytes_transferred"`
	Percent          float64   `json:"percent"`
	BlockCount       int       `json:"block_count"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func transferToDTO(tr *flash.Transfer) transferDTO {
	p := flash.ToProgress(tr)
	return transferDTO{
		ID: tr.ID, PackageID: tr.PackageID, State: string(p.State),
		BytesTotal: p.BytesTotal, BytesTransferred: p.BytesTransferred, Percent: p.Percent,
		BlockCount: p.BlockCount, Error: p.Error, StartedAt: p.StartedAt, UpdatedAt: p.UpdatedAt,
	}
}

// uploadPackageRequest carries the staged firmware as base64 alongside an
// optional manifest, matching the JSON shape of every other write route on
// this surface (spec.md §4.9 "receive_package").
type uploadPackageRequest struct {
	Data     string       `json:"data"`
	Manifest *manifestDTO `json:"manifest,omitempty"`
}

func (s *Server) handleUploadPackage(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req uploadPackageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		s.writeError(w, r, errors.InvalidRequest("data must be base64-encoded"))
		return
	}
	var manifest *flash.Manifest
	if req.Manifest != nil {
		manifest = &flash.Manifest{
			Version: req.Manifest.Version, CRC: req.Manifest.CRC,
			TargetECU: req.Manifest.TargetECU, MemoryAddress: req.Manifest.MemoryAddress,
		}
	}
	pkg := fm.ReceivePackage(raw, manifest)
	httputil.WriteJSON(w, http.StatusCreated, packageToDTO(pkg))
}

func (s *Server) handlePackageStatus(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pkg, ok := fm.Package(mux.Vars(r)["pkg_id"])
	if !ok {
		s.writeError(w, r, errors.New(errors.CategoryEntityNotFound, "package not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, packageToDTO(pkg))
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := fm.DeletePackage(mux.Vars(r)["pkg_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyPackage(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pkg, err := fm.Verify(mux.Vars(r)["pkg_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, packageToDTO(pkg))
}

type startTransferRequest struct {
	PackageID string `json:"package_id"`
}

func (s *Server) handleStartTransfer(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req startTransferRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	tr, err := fm.StartFlash(r.Context(), req.PackageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, transferToDTO(tr))
}

func (s *Server) currentTransfer(fm *flash.Machine, tID string) (*flash.Transfer, error) {
	tr, ok := fm.Status()
	if !ok || tr.ID != tID {
		return nil, errors.New(errors.CategoryEntityNotFound, "transfer not found").WithDetails("id", tID)
	}
	return tr, nil
}

func (s *Server) handleTransferStatus(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.currentTransfer(fm, mux.Vars(r)["t_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferToDTO(tr))
}

// handleFinalizeTransfer is a no-op observer over the terminal state the
// machine reaches on its own once the last transfer-data block and the
// 0x37 transfer-exit have completed (spec.md §4.9's "finalize" is the
// machine's own transition into Finalized, not an operation the caller
// drives). It does not wait for that transition: it returns the transfer
// status when the state is already Finalized and a conflict otherwise.
func (s *Server) handleFinalizeTransfer(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := s.currentTransfer(fm, mux.Vars(r)["t_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tr.State != flash.StateFinalized {
		s.writeError(w, r, errors.Conflict("transfer has not reached finalized state"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferToDTO(tr))
}

type abortTransferRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleAbortTransfer(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.currentTransfer(fm, mux.Vars(r)["t_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req abortTransferRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "aborted by caller"
	}
	tr := fm.Abort(reason)
	if tr == nil {
		s.writeError(w, r, errors.New(errors.CategoryEntityNotFound, "transfer not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferToDTO(tr))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := fm.Activate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferToDTO(tr))
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := fm.Commit(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferToDTO(tr))
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fm, err := s.flashMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tr, err := fm.Rollback(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferToDTO(tr))
}
