package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
	"github.com/r3e-network/sovd-gateway/internal/subscription"
)

type createSubscriptionRequest struct {
	Params     []string `json:"params"`
	RateHz     float64  `json:"rate_hz"`
	Mode       string   `json:"mode,omitempty"` // "periodic" (default) or "on_change"
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

type subscriptionDTO struct {
	ID        string   `json:"id"`
	EntityID  string   `json:"entity_id"`
	Params    []string `json:"params"`
	RateHz    float64  `json:"rate_hz"`
	Mode      string   `json:"mode"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
	ExpiresAt string   `json:"expires_at,omitempty"`
}

func subToDTO(sub *subscription.Subscription) subscriptionDTO {
	dto := subscriptionDTO{
		ID: sub.ID, EntityID: sub.EntityID, Params: sub.Params,
		RateHz: sub.RateHz, Mode: string(sub.Mode), Status: string(sub.Status),
		CreatedAt: sub.CreatedAt.Format(time.RFC3339),
	}
	if !sub.ExpiresAt.IsZero() {
		dto.ExpiresAt = sub.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

func (s *Server) subscriptionManager(backend interface{}) (*subscription.Manager, error) {
	owner, ok := backend.(subscriptionOwner)
	if !ok {
		return nil, errors.NotSupported("subscriptions")
	}
	return owner.Subscriptions(), nil
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	backend, id, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mgr, err := s.subscriptionManager(backend)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createSubscriptionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	mode := subscription.ModePeriodic
	if req.Mode == string(subscription.ModeOnChange) {
		mode = subscription.ModeOnChange
	}
	var ttl time.Duration
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	sub, err := mgr.Create(r.Context(), id, req.Params, req.RateHz, mode, ttl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.SetSubscriptionsActive(len(mgr.List()))
	}
	httputil.WriteJSON(w, http.StatusCreated, subToDTO(sub))
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
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
	if err := mgr.Cancel(r.Context(), subID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.SetSubscriptionsActive(len(mgr.List()))
	}
	w.WriteHeader(http.StatusNoContent)
}
