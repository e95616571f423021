package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/internal/subscription"
)

// handleSubscriptionStream emits a text/event-stream of subscription
// events, grounded in the line-oriented data:/event:/id: SSE framing
// spec.md §6.1 describes (mirrored here on the encode side).
func (s *Server) handleSubscriptionStream(w http.ResponseWriter, r *http.Request) {
	backend, _, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mgr, err := s.subscriptionManager(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	subID := mux.Vars(r)["sub_id"]
	sub, ok := mgr.Get(subID)
	if !ok {
		s.writeError(w, r, errors.EntityNotFound(subID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, errors.Internal("streaming unsupported by response writer", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Out():
			if !open {
				fmt.Fprint(w, ": stream closed\n\n")
				flusher.Flush()
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
			if s.Metrics != nil {
				s.Metrics.RecordSubscriptionEvent(sub.EntityID)
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev subscription.Event) {
	payload := map[string]interface{}{
		"ts":  ev.TimestampMS,
		"seq": ev.Sequence,
	}
	for k, v := range ev.Values {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: sample\ndata: %s\n\n", ev.Sequence, body)
}
