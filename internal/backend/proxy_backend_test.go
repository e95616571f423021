package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/internal/entity"
)

func newTestProxy(t *testing.T, mux *http.ServeMux) (*ProxyBackend, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p, err := NewProxyBackend(context.Background(), ProxyConfig{
		ID: "remote1", Name: "Remote", BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("new proxy backend: %v", err)
	}
	return p, srv
}

func TestProxyBackendAdoptsUpstreamCapabilities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components/remote1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"capabilities": map[string]bool{"read_data": true, "write_data": false, "faults": true},
		})
	})
	p, _ := newTestProxy(t, mux)
	caps := p.Info().Capabilities
	if !caps.ReadData || caps.WriteData || !caps.Faults {
		t.Fatalf("expected capabilities adopted verbatim from upstream, got %+v", caps)
	}
}

func TestProxyBackendReadParameter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components/remote1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"capabilities": map[string]bool{"read_data": true}})
	})
	mux.HandleFunc("/components/remote1/data/engine_rpm", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(entity.Parameter{ID: "engine_rpm", Value: float64(100)})
	})
	p, _ := newTestProxy(t, mux)

	param, err := p.ReadParameter(context.Background(), "engine_rpm")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if param.ID != "engine_rpm" || param.Value != float64(100) {
		t.Fatalf("unexpected param: %+v", param)
	}
}

func TestProxyBackendCapabilityGuard(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components/remote1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"capabilities": map[string]bool{"read_data": false}})
	})
	p, _ := newTestProxy(t, mux)
	if _, err := p.ReadParameter(context.Background(), "engine_rpm"); err == nil {
		t.Fatal("expected not-supported when upstream reports read_data=false")
	}
}

func TestProxyBackendPassesThroughECUErrorNRC(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components/remote1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"capabilities": map[string]bool{"read_data": true}})
	})
	mux.HandleFunc("/components/remote1/data/engine_rpm", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error_code": "error-response",
			"message":    "ECU rejected",
			"parameters": map[string]int{"NRC": 0x31, "SID": 0x22},
		})
	})
	p, _ := newTestProxy(t, mux)

	_, err := p.ReadParameter(context.Background(), "engine_rpm")
	de := errors.AsDiagError(err)
	if de == nil || de.NRC != 0x31 || de.SID != 0x22 {
		t.Fatalf("expected NRC/SID to survive the proxy hop byte-identical, got %+v", de)
	}
}

func TestProxyBackendStartOperationWrapsParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components/remote1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"capabilities": map[string]bool{"operations": true}})
	})
	var gotBody map[string]interface{}
	mux.HandleFunc("/components/remote1/operations/self_test/start", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(entity.OperationResult{Status: "running"})
	})
	p, _ := newTestProxy(t, mux)

	result, err := p.StartOperation(context.Background(), "self_test", map[string]interface{}{"duration": float64(5)})
	if err != nil {
		t.Fatalf("start operation: %v", err)
	}
	if result.Status != "running" {
		t.Fatalf("unexpected result: %+v", result)
	}
	params, ok := gotBody["params"].(map[string]interface{})
	if !ok || params["duration"] != float64(5) {
		t.Fatalf("expected params wrapped under \"params\", got %+v", gotBody)
	}
}

func TestProxyBackendSubEntityDisabledWithoutSubEntities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/components/remote1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"capabilities": map[string]bool{"sub_entities": false}})
	})
	p, _ := newTestProxy(t, mux)
	if _, err := p.SubEntity(context.Background(), "child1"); err == nil {
		t.Fatal("expected entity-not-found when upstream reports sub_entities=false")
	}
}
