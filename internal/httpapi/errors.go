package httpapi

import (
	"net/http"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

// ecuErrorResponse is the SOVD ECU-specific error shape (spec.md §6):
// { "error_code": "error-response", "message", "parameters": {NRC,SID},
// "x-errorsource": "ECU" }.
type ecuErrorResponse struct {
	ErrorCode    string            `json:"error_code"`
	Message      string            `json:"message"`
	Parameters   ecuErrorParams    `json:"parameters"`
	ErrorSource  string            `json:"x-errorsource"`
}

type ecuErrorParams struct {
	NRC byte `json:"NRC"`
	SID byte `json:"SID"`
}

// writeError renders err as one of the two SOVD error shapes and records
// it against the error-category metric.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := errors.AsDiagError(err)
	if de == nil {
		de = errors.Internal("unexpected error", err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordError("sovd-gateway", string(de.Category))
	}
	if de.Category == errors.CategoryECUError {
		httputil.WriteJSON(w, de.HTTPStatus(), ecuErrorResponse{
			ErrorCode:   "error-response",
			Message:     de.Message,
			Parameters:  ecuErrorParams{NRC: de.NRC, SID: de.SID},
			ErrorSource: "ECU",
		})
		return
	}
	httputil.WriteErrorResponse(w, de.HTTPStatus(), string(de.Category), de.Message)
}
