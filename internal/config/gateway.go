package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// ProxyEntitySpec names one remote SOVD entity reached over HTTP, wired up
// as a backend.ProxyBackend (spec.md §4.7).
type ProxyEntitySpec struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// GatewaySpec groups existing root entities under a composite gateway id
// (spec.md §4.8 "a gateway can aggregate ECUs").
type GatewaySpec struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Children    []string `yaml:"children"`
}

// AuthSpec configures the bearer-token/JWT middleware (spec.md §6.1).
type AuthSpec struct {
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// GatewayConfig is the top-level process config: the listen address, the
// shared DID catalog, the set of leaf ECU/app-entity/proxy configs, and
// any composite gateway groupings (spec.md §6.3 persisted state layout,
// extended with the process-level wiring a shippable binary needs).
type GatewayConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	Root       string   `yaml:"root"`
	Catalog    string   `yaml:"catalog"`
	ECUs       []string `yaml:"ecus"`
	Apps       []string `yaml:"apps"`

	Gateways []GatewaySpec     `yaml:"gateways"`
	Proxies  []ProxyEntitySpec `yaml:"proxies"`

	Auth AuthSpec `yaml:"auth"`
}

// LoadGatewayConfig parses the top-level gateway YAML document.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Internal("config: read gateway config", err)
	}
	var cfg GatewayConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Internal("config: parse gateway config", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Root == "" {
		cfg.Root = "sovd"
	}
	return &cfg, nil
}
