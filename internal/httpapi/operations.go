package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

type startOperationRequest struct {
	Params map[string]interface{} `json:"params,omitempty"`
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names := []string{}
	if lister, ok := backend.(operationLister); ok {
		names = lister.OperationNames()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"operations": names})
}

func (s *Server) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := mux.Vars(r)["op"]
	var req startOperationRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	result, err := backend.StartOperation(r.Context(), name, req.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleStopOperation(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := mux.Vars(r)["op"]
	result, err := backend.StopOperation(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleOperationResults(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := mux.Vars(r)["op"]
	result, err := backend.OperationResults(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
