package config

import "testing"

func TestLoadGatewayConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "gateway.yaml", `
ecus:
  - ecu1.yaml
`)
	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("load gateway config: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Root != "sovd" {
		t.Fatalf("expected default listen_addr/root, got %+v", cfg)
	}
	if len(cfg.ECUs) != 1 || cfg.ECUs[0] != "ecu1.yaml" {
		t.Fatalf("unexpected ecus list: %+v", cfg.ECUs)
	}
}

func TestLoadGatewayConfigFullDocument(t *testing.T) {
	path := writeTemp(t, "gateway.yaml", `
listen_addr: ":9000"
root: fleet
catalog: catalog.yaml
ecus: [ecu1.yaml, ecu2.yaml]
apps: [app1.yaml]
gateways:
  - id: gw1
    name: Gateway One
    children: [ecu1, ecu2]
proxies:
  - id: remote1
    name: Remote
    base_url: http://remote.example/sovd
auth:
  jwt_secret_env: SOVD_JWT_SECRET
`)
	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("load gateway config: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.Root != "fleet" {
		t.Fatalf("expected explicit overrides to be honored, got %+v", cfg)
	}
	if len(cfg.Gateways) != 1 || cfg.Gateways[0].ID != "gw1" || len(cfg.Gateways[0].Children) != 2 {
		t.Fatalf("unexpected gateways: %+v", cfg.Gateways)
	}
	if len(cfg.Proxies) != 1 || cfg.Proxies[0].BaseURL != "http://remote.example/sovd" {
		t.Fatalf("unexpected proxies: %+v", cfg.Proxies)
	}
	if cfg.Auth.JWTSecretEnv != "SOVD_JWT_SECRET" {
		t.Fatalf("unexpected auth block: %+v", cfg.Auth)
	}
}

func TestLoadGatewayConfigMissingFile(t *testing.T) {
	if _, err := LoadGatewayConfig("/nonexistent/gateway.yaml"); err == nil {
		t.Fatal("expected a missing file to error")
	}
}
