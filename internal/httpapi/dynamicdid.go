package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
	"github.com/r3e-network/sovd-gateway/internal/conv"
)

type dynamicSourceRequest struct {
	SourceDID string `json:"source_did"`
	Position1 int    `json:"position1"`
	ByteCount int    `json:"byte_count"`
}

type defineDynamicDIDRequest struct {
	Target  string                 `json:"target"`
	Sources []dynamicSourceRequest `json:"sources"`
}

func (s *Server) handleDefineDynamicDID(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, ok := backend.(dynamicDIDOwner)
	if !ok {
		s.writeError(w, r, errors.NotSupported("dynamic_dids"))
		return
	}
	var req defineDynamicDIDRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	target, err := conv.ParseDID(req.Target)
	if err != nil {
		s.writeError(w, r, errors.InvalidRequest("invalid target DID"))
		return
	}
	sources := make([]conv.DynamicSource, 0, len(req.Sources))
	for _, src := range req.Sources {
		sourceDID, err := conv.ParseDID(src.SourceDID)
		if err != nil {
			s.writeError(w, r, errors.InvalidRequest("invalid source DID"))
			return
		}
		sources = append(sources, conv.DynamicSource{
			SourceDID: sourceDID, Position1: src.Position1, ByteCount: src.ByteCount,
		})
	}
	if err := owner.InstallDynamicDID(r.Context(), target, sources); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleClearDynamicDID(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, ok := backend.(dynamicDIDOwner)
	if !ok {
		s.writeError(w, r, errors.NotSupported("dynamic_dids"))
		return
	}
	target, err := conv.ParseDID(mux.Vars(r)["did"])
	if err != nil {
		s.writeError(w, r, errors.InvalidRequest("invalid DID"))
		return
	}
	if err := owner.ClearDynamicDID(r.Context(), target); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
