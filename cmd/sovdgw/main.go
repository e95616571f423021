// Command sovdgw is the SOVD diagnostic gateway's process entrypoint: it
// loads the declarative gateway/ECU/app/catalog configuration, wires up
// one UDS service-layer stack per configured ECU, assembles the
// diagnostic-entity federation, and serves the SOVD HTTP/JSON surface
// behind the standard middleware chain, grounded in the teacher's
// `cmd/gateway/main.go` bootstrap shape (minus the enclave/OAuth/database
// concerns that have no analog in this domain).
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/logging"
	"github.com/r3e-network/sovd-gateway/infrastructure/metrics"
	"github.com/r3e-network/sovd-gateway/infrastructure/middleware"
	"github.com/r3e-network/sovd-gateway/internal/backend"
	"github.com/r3e-network/sovd-gateway/internal/config"
	"github.com/r3e-network/sovd-gateway/internal/conv"
	"github.com/r3e-network/sovd-gateway/internal/entity"
	"github.com/r3e-network/sovd-gateway/internal/flash"
	"github.com/r3e-network/sovd-gateway/internal/httpapi"
	"github.com/r3e-network/sovd-gateway/internal/session"
	"github.com/r3e-network/sovd-gateway/internal/subscription"
	"github.com/r3e-network/sovd-gateway/internal/transport"
	"github.com/r3e-network/sovd-gateway/internal/uds"
)

// defaultKeySigner computes an HMAC-SHA256 key from the ECU's shared
// secret and issued seed. Real deployments supply a vendor-specific
// algorithm; this stands in as the reference implementation since no
// seed/key algorithm is itself part of this system (spec.md §1
// Non-goals: "the computation is a pluggable hook").
func defaultKeySigner(secret, seed []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(seed)
	return mac.Sum(nil), nil
}

func main() {
	configPath := flag.String("config", os.Getenv("SOVD_GATEWAY_CONFIG"), "path to the gateway YAML config")
	flag.Parse()
	if *configPath == "" {
		log.Fatal("sovdgw: -config (or SOVD_GATEWAY_CONFIG) is required")
	}

	logger := logging.NewFromEnv("sovd-gateway")
	ctx := context.Background()

	gwCfg, err := config.LoadGatewayConfig(*configPath)
	if err != nil {
		log.Fatalf("sovdgw: load gateway config: %v", err)
	}

	store, err := config.LoadCatalog(gwCfg.Catalog)
	if err != nil {
		log.Fatalf("sovdgw: load catalog: %v", err)
	}

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.Init("sovd-gateway")
	}

	roots := make(map[string]entity.Backend)
	var discoverable []httpapi.Discoverable

	for _, path := range gwCfg.ECUs {
		id, b, err := buildECUBackend(ctx, path, store, logger, m)
		if err != nil {
			log.Fatalf("sovdgw: build ECU from %s: %v", path, err)
		}
		roots[id] = b
		discoverable = append(discoverable, b)
	}

	for _, spec := range gwCfg.Proxies {
		p, err := backend.NewProxyBackend(ctx, backend.ProxyConfig{
			ID: spec.ID, Name: spec.Name, BaseURL: spec.BaseURL, CallerID: "sovd-gateway",
		})
		if err != nil {
			log.Fatalf("sovdgw: build proxy %s: %v", spec.ID, err)
		}
		roots[spec.ID] = p
	}

	for _, path := range gwCfg.Apps {
		appCfg, err := config.LoadAppEntityConfig(path)
		if err != nil {
			log.Fatalf("sovdgw: load app entity %s: %v", path, err)
		}
		app := entity.NewAppEntity(appCfg.ID, appCfg.Name, appCfg.Description)
		if appCfg.ManagedECU != "" {
			managed, ok := roots[appCfg.ManagedECU]
			if !ok {
				logger.Warn(ctx, "app entity names an unresolved managed ECU", map[string]interface{}{
					"app": appCfg.ID, "managed_ecu": appCfg.ManagedECU,
				})
			} else {
				app.Register(appCfg.ManagedECU, managed)
				app.SetManaged(appCfg.ManagedECU, nil)
			}
		}
		roots[appCfg.ID] = app
	}

	for _, spec := range gwCfg.Gateways {
		gw := entity.NewComposite(spec.ID, spec.Name, spec.Description)
		for _, childID := range spec.Children {
			child, ok := roots[childID]
			if !ok {
				logger.Warn(ctx, "gateway names an unresolved child entity", map[string]interface{}{
					"gateway": spec.ID, "child": childID,
				})
				continue
			}
			gw.Register(childID, child)
		}
		roots[spec.ID] = gw
	}

	federation := entity.NewFederation(roots)

	jwtSecret := loadJWTSecret(gwCfg.Auth.JWTSecretEnv)
	authDisabled := strings.TrimSpace(os.Getenv("SOVD_AUTH_DISABLED")) == "1"
	if authDisabled {
		logger.Warn(ctx, "SOVD auth disabled; do not run this way in production", nil)
	}

	server := &httpapi.Server{
		Federation:   federation,
		Log:          logger,
		Metrics:      m,
		Root:         gwCfg.Root,
		AuthDisabled: authDisabled,
		JWTSecret:    jwtSecret,
		StartTime:    time.Now(),
		Version:      "sovd-gateway",
		Discoverable: discoverable,
	}
	server.SetReady(true)

	rateLimiter := middleware.NewRateLimiter(50, 100, logger)
	router := httpapi.NewRouter(server, rateLimiter)

	httpServer := &http.Server{
		Addr:              gwCfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info(ctx, "sovd-gateway starting", map[string]interface{}{"addr": gwCfg.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("sovdgw: server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "sovd-gateway shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

// loadJWTSecret reads the bearer-auth signing secret from the configured
// environment variable, falling back to SOVD_JWT_SECRET.
func loadJWTSecret(envName string) []byte {
	if envName == "" {
		envName = "SOVD_JWT_SECRET"
	}
	v := strings.TrimSpace(os.Getenv(envName))
	return []byte(v)
}

// buildECUBackend constructs the full UDS service-layer stack for one ECU
// config file: transport, UDS client, session/security machine, flash
// machine, the UDSBackend itself, and its subscription manager, wired
// together in dependency order (spec.md §3 ownership).
func buildECUBackend(ctx context.Context, path string, store *conv.Store, logger *logging.Logger, m *metrics.Metrics) (string, *backend.UDSBackend, error) {
	ecuCfg, err := config.LoadECUConfig(path)
	if err != nil {
		return "", nil, err
	}

	adapter, err := buildTransport(ctx, ecuCfg.Transport)
	if err != nil {
		return "", nil, err
	}

	client := uds.NewClient(adapter, ecuCfg.ID, m)

	keepalive := time.Duration(ecuCfg.Session.KeepaliveMS) * time.Millisecond
	sessionMachine := session.New(client, logger, defaultKeySigner, keepalive)

	var commitFn, rollbackFn flash.CommitRoutine
	if ecuCfg.Flash.CommitRoutineID != 0 {
		commitFn = backend.RoutineCommitFunc(client, ecuCfg.Flash.CommitRoutineID)
	}
	if ecuCfg.Flash.RollbackRoutineID != 0 {
		rollbackFn = backend.RoutineCommitFunc(client, ecuCfg.Flash.RollbackRoutineID)
	}
	resetFn := func(ctx context.Context) error {
		sub := uds.ResetHard
		req := uds.Request(uds.ECUReset, &sub, nil)
		resp, err := client.Do(ctx, uds.ECUReset, req)
		if err != nil {
			return err
		}
		if resp.Kind != uds.KindPositive {
			return errors.Protocol("ecu reset: unexpected reply shape")
		}
		sessionMachine.NotifyReset()
		return nil
	}
	flashMachine := flash.New(client, ecuCfg.Security.SupportsRollback, commitFn, rollbackFn, resetFn)

	b := backend.NewUDSBackend(backend.Config{
		ID: ecuCfg.ID, Name: ecuCfg.Name, Description: ecuCfg.Description,
		Capabilities: entity.UDSCapabilities(),
		Client:       client, Session: sessionMachine, Store: store, Flash: flashMachine,
		Log:        logger,
		VIN:        ecuCfg.Discovery.VIN,
		PartNumber: ecuCfg.Discovery.PartNumber,
	})

	for _, p := range ecuCfg.Parameters {
		if p.SecurityLevel > 0 {
			b.RequireSecurityFor(p.Ref, p.SecurityLevel)
		}
	}
	for _, op := range ecuCfg.Operations {
		b.RegisterOperation(op.Name, backend.Operation{RoutineID: op.RoutineID})
		if op.SecurityLevel > 0 {
			b.RequireSecurityFor(op.Name, op.SecurityLevel)
		}
	}
	for _, out := range ecuCfg.Outputs {
		b.RegisterOutput(out.Name, backend.Output{DID: out.DID})
		if out.SecurityLevel > 0 {
			b.RequireSecurityFor(out.Name, out.SecurityLevel)
		}
	}

	if secret, err := ecuCfg.Secret(); err == nil {
		b.SetSecret([]byte(secret))
	} else {
		logger.Warn(ctx, "ECU has no configured secret; security access will fail", map[string]interface{}{"ecu": ecuCfg.ID})
	}

	subs := subscription.New(store, b.ReadValue, b.InstallDynamicDID, b.ClearDynamicDID, uuid.NewString)
	b.SetSubscriptions(subs)

	return ecuCfg.ID, b, nil
}

// buildTransport selects and configures the transport adapter named by
// spec.Kind (spec.md §4.1). "isotp" requires a concrete CAN socket this
// repository does not provide (spec.md §1 "OUT OF SCOPE: concrete socket
// implementations for CAN and TCP"), so it fails clearly instead of
// silently degrading to a mock.
func buildTransport(ctx context.Context, spec config.TransportSpec) (transport.Adapter, error) {
	switch spec.Kind {
	case "", "mock":
		return transport.NewMock(transport.AddressInfo{
			TxID: spec.CAN.TxID, RxID: spec.CAN.RxID,
		}), nil
	case "doip":
		return transport.NewDoIP(ctx, transport.DoIPConfig{
			Host: spec.DoIP.Host, Port: spec.DoIP.Port,
			SourceAddress: spec.DoIP.SourceAddress, TargetAddress: spec.DoIP.TargetAddress,
			TLS:              spec.DoIP.TLS,
			AliveCheckPeriod: time.Duration(spec.DoIP.AliveCheckPeriod) * time.Second,
		})
	case "isotp":
		return nil, errors.Internal("isotp transport requires an external CAN socket implementation, which this build does not provide", nil)
	default:
		return nil, errors.InvalidRequest("unknown transport kind " + spec.Kind)
	}
}
