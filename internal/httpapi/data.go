package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

type writeParameterRequest struct {
	Value interface{} `json:"value"`
}

func (s *Server) handleReadParameter(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	param := mux.Vars(r)["param"]
	p, err := backend.ReadParameter(r.Context(), param)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleWriteParameter(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	param := mux.Vars(r)["param"]
	var req writeParameterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := backend.WriteParameter(r.Context(), param, req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadBatch(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	refs := httputil.QueryCSV(r, "params")
	if len(refs) == 0 {
		s.writeError(w, r, errors.InvalidRequest("params query parameter is required"))
		return
	}
	params, errs := backend.ReadBatch(r.Context(), refs)
	out := make([]map[string]interface{}, len(refs))
	for i := range refs {
		item := map[string]interface{}{"id": refs[i]}
		if errs[i] != nil {
			item["error"] = errs[i].Error()
		} else {
			item["parameter"] = params[i]
		}
		out[i] = item
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": out})
}
