// Package httpapi implements the SOVD HTTP/JSON surface over the
// diagnostic-entity federation (spec.md §6.1): component listing,
// data/fault/operation/output access, session/security/link control,
// dynamic DID management, subscriptions (including an SSE stream), flash
// transfers, discovery, health probes, and metrics, all behind a
// gorilla/mux router with JWT auth and rate-limiting middleware.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/infrastructure/logging"
	"github.com/r3e-network/sovd-gateway/infrastructure/metrics"
	"github.com/r3e-network/sovd-gateway/infrastructure/middleware"
	"github.com/r3e-network/sovd-gateway/internal/entity"
)

// Server holds everything a request handler needs: the federation layer,
// logging/metrics, auth configuration, and the discovery registry.
type Server struct {
	Federation *entity.Federation
	Log        *logging.Logger
	Metrics    *metrics.Metrics

	Root string // URL root segment, e.g. "sovd"

	AuthDisabled bool
	JWTSecret    []byte

	StartTime time.Time
	Version   string

	// discoverable lists entities exposing VIN/part-number metadata for
	// the /discovery endpoint (spec.md §9 supplemented feature).
	Discoverable []Discoverable

	ready bool
}

// Discoverable is implemented by backends that can be matched by a VIN or
// part-number discovery query (spec.md §9).
type Discoverable interface {
	DiscoveryInfo() (vin, partNumber string, entityID string)
}

// SetReady flips the readiness probe, typically once all backends have
// been constructed and registered.
func (s *Server) SetReady(ready bool) { s.ready = ready }

// NewRouter builds the full SOVD route table behind the standard
// middleware chain (recovery, metrics, rate limiting, auth), grounded in
// the teacher's `cmd/gateway/main.go` router-construction pattern.
func NewRouter(s *Server, rateLimiter *middleware.RateLimiter) *mux.Router {
	router := mux.NewRouter()

	recovery := middleware.NewRecoveryMiddleware(s.Log)
	router.Use(recovery.Handler)
	if s.Metrics != nil {
		router.Use(middleware.MetricsMiddleware("sovd-gateway", s.Metrics))
	}
	if rateLimiter != nil {
		router.Use(rateLimiter.Handler)
	}

	health := middleware.NewHealthChecker(s.Version)
	router.HandleFunc("/healthz", health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/livez", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", middleware.ReadinessHandler(&s.ready)).Methods(http.MethodGet)
	if metrics.Enabled() {
		router.Handle("/metrics", metricsHandler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/" + s.Root + "/v1").Subrouter()
	api.Use(authMiddleware(s))

	api.HandleFunc("/discovery", s.handleDiscovery).Methods(http.MethodGet)

	api.HandleFunc("/components", s.handleListComponents).Methods(http.MethodGet)

	// Order matters: gorilla/mux tries routes in registration order and
	// {id:.+} is greedy, so every route with a literal suffix after the id
	// must be registered before the bare component-info route.
	api.HandleFunc("/components/{id:.+}/data/{param}", s.handleReadParameter).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/data/{param}", s.handleWriteParameter).Methods(http.MethodPut)
	api.HandleFunc("/components/{id:.+}/data", s.handleReadBatch).Methods(http.MethodGet)

	api.HandleFunc("/components/{id:.+}/faults/clear", s.handleClearFaults).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/faults/{fault_id}", s.handleFaultDetail).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/faults", s.handleListFaults).Methods(http.MethodGet)

	api.HandleFunc("/components/{id:.+}/operations/{op}/start", s.handleStartOperation).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/operations/{op}/stop", s.handleStopOperation).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/operations/{op}/results", s.handleOperationResults).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/operations", s.handleListOperations).Methods(http.MethodGet)

	api.HandleFunc("/components/{id:.+}/outputs/{output}/actuate", s.handleActuate).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/outputs/{output}", s.handleReadOutput).Methods(http.MethodGet)

	api.HandleFunc("/components/{id:.+}/reset", s.handleReset).Methods(http.MethodPost)

	api.HandleFunc("/components/{id:.+}/modes/session", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/modes/session", s.handleSetSession).Methods(http.MethodPut)
	api.HandleFunc("/components/{id:.+}/modes/security", s.handleSecurity).Methods(http.MethodPut)
	api.HandleFunc("/components/{id:.+}/modes/link", s.handleGetLink).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/modes/link", s.handleLink).Methods(http.MethodPut)

	api.HandleFunc("/components/{id:.+}/dynamic-dids", s.handleDefineDynamicDID).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/dynamic-dids/{did}", s.handleClearDynamicDID).Methods(http.MethodDelete)

	api.HandleFunc("/components/{id:.+}/subscriptions/{sub_id}/stream", s.handleSubscriptionStream).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/subscriptions/{sub_id}", s.handleCancelSubscription).Methods(http.MethodDelete)
	api.HandleFunc("/components/{id:.+}/subscriptions", s.handleCreateSubscription).Methods(http.MethodPost)

	api.HandleFunc("/components/{id:.+}/flash/packages/{pkg_id}/verify", s.handleVerifyPackage).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/flash/packages/{pkg_id}", s.handlePackageStatus).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/flash/packages/{pkg_id}", s.handleDeletePackage).Methods(http.MethodDelete)
	api.HandleFunc("/components/{id:.+}/flash/packages", s.handleUploadPackage).Methods(http.MethodPost)

	api.HandleFunc("/components/{id:.+}/flash/transfers/{t_id}/finalize", s.handleFinalizeTransfer).Methods(http.MethodPut)
	api.HandleFunc("/components/{id:.+}/flash/transfers/{t_id}/abort", s.handleAbortTransfer).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/flash/transfers/{t_id}", s.handleTransferStatus).Methods(http.MethodGet)
	api.HandleFunc("/components/{id:.+}/flash/transfers", s.handleStartTransfer).Methods(http.MethodPost)

	api.HandleFunc("/components/{id:.+}/flash/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/flash/commit", s.handleCommit).Methods(http.MethodPost)
	api.HandleFunc("/components/{id:.+}/flash/rollback", s.handleRollback).Methods(http.MethodPost)

	api.HandleFunc("/components/{id:.+}", s.handleComponentInfo).Methods(http.MethodGet)

	return router
}
