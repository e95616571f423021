package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
	"github.com/r3e-network/sovd-gateway/internal/entity"
)

func (s *Server) handleListFaults(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := entity.FaultFilter{
		Severity:   httputil.QueryString(r, "severity", ""),
		Category:   httputil.QueryString(r, "category", ""),
		ActiveOnly: httputil.QueryBool(r, "active", false),
		Limit:      httputil.QueryInt(r, "limit", 0),
	}
	if since := httputil.QueryString(r, "since", ""); since != "" {
		if t, perr := time.Parse(time.RFC3339, since); perr == nil {
			filter.Since = t
		}
	}
	result, err := backend.ListFaults(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleFaultDetail(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := mux.Vars(r)["fault_id"]
	fault, err := backend.FaultDetail(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fault)
}

func (s *Server) handleClearFaults(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := backend.ClearFaults(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
