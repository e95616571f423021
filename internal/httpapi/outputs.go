package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

// actuateRequest mirrors the IO-control action vocabulary spec.md §4.6
// lists for output control (short_term_adjustment, reset_to_default,
// freeze_current_state, return_control_to_ecu).
type actuateRequest struct {
	Action string      `json:"action"`
	Value  interface{} `json:"value,omitempty"`
}

// handleReadOutput reads an output's current value. Outputs are declared
// with a backing DID (internal/config.OutputSpec), so reading one reuses
// the same parameter-read path as /data/{param} with the output's name as
// its catalog reference.
func (s *Server) handleReadOutput(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	output := mux.Vars(r)["output"]
	p, err := backend.ReadParameter(r.Context(), output)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleActuate(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	output := mux.Vars(r)["output"]
	var req actuateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, err := backend.Actuate(r.Context(), output, req.Action, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
