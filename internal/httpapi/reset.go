package httpapi

import (
	"net/http"

	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

type resetRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req resetRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = "hard"
	}
	result, err := backend.Reset(r.Context(), req.Kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
