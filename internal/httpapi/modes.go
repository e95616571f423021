package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
	"github.com/r3e-network/sovd-gateway/internal/session"
)

type sessionStateDTO struct {
	Session      string `json:"session"`
	SecurityKind string `json:"security_kind"`
	SecurityLevel int   `json:"security_level,omitempty"`
	CurrentBaud  byte   `json:"current_baud"`
	PendingBaud  byte   `json:"pending_baud,omitempty"`
	HasPending   bool   `json:"has_pending"`
}

func sessionStateToDTO(st session.State) sessionStateDTO {
	return sessionStateDTO{
		Session:       string(st.Session),
		SecurityKind:  string(st.Security.Kind),
		SecurityLevel: st.Security.Level,
		CurrentBaud:   st.CurrentBaud,
		PendingBaud:   st.PendingBaud,
		HasPending:    st.HasPending,
	}
}

func (s *Server) sessionMachine(backend interface{}) (*session.Machine, error) {
	owner, ok := backend.(sessionOwner)
	if !ok {
		return nil, errors.NotSupported("sessions")
	}
	return owner.Session(), nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.sessionMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionStateToDTO(m.Snapshot()))
}

type setSessionRequest struct {
	Session string `json:"session"`
}

func (s *Server) handleSetSession(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.sessionMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req setSessionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := m.ChangeSession(r.Context(), session.Kind(req.Session)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionStateToDTO(m.Snapshot()))
}

// securityRequest drives the two-step seed/key handshake (spec.md §4.4):
// action "request_seed" issues a new seed for level; action "send_key"
// answers the most recently issued seed using the server-held secret and
// signer, so the HTTP caller never sees key material.
type securityRequest struct {
	Action string `json:"action"`
	Level  int    `json:"level,omitempty"`
}

func (s *Server) handleSecurity(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, ok := backend.(securityOwner)
	if !ok {
		s.writeError(w, r, errors.NotSupported("security"))
		return
	}
	var req securityRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	switch req.Action {
	case "request_seed":
		seed, err := owner.RequestSeed(r.Context(), req.Level)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"seed": hex.EncodeToString(seed)})
	case "send_key":
		if err := owner.Unlock(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, r, errors.InvalidRequest("security action must be request_seed or send_key"))
	}
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.sessionMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st := m.Snapshot()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"current_baud": st.CurrentBaud,
		"pending_baud": st.PendingBaud,
		"has_pending":  st.HasPending,
	})
}

type linkRequest struct {
	Action   string `json:"action"` // "verify" or "transition"
	Baud     byte   `json:"baud,omitempty"`
	Specific bool   `json:"specific,omitempty"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.sessionMachine(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req linkRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	switch req.Action {
	case "verify":
		if err := m.VerifyBaud(r.Context(), req.Baud, req.Specific); err != nil {
			s.writeError(w, r, err)
			return
		}
	case "transition":
		if err := m.TransitionBaud(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
	default:
		s.writeError(w, r, errors.InvalidRequest("link action must be verify or transition"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionStateToDTO(m.Snapshot()))
}
