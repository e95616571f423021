package httpapi

import (
	"net/http"

	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

func (s *Server) handleListComponents(w http.ResponseWriter, r *http.Request) {
	infos := s.Federation.List()
	out := make([]infoDTO, 0, len(infos))
	for _, info := range infos {
		out = append(out, infoToDTO(info))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"components": out})
}

func (s *Server) handleComponentInfo(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, infoToDTO(backend.Info()))
}
