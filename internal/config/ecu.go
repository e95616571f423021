package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// TransportSpec selects and configures one ECU's transport adapter
// (spec.md §4.1, §6.2).
type TransportSpec struct {
	Kind string `yaml:"kind"` // "isotp", "doip", or "mock"

	CAN  CANTransportSpec  `yaml:"can"`
	DoIP DoIPTransportSpec `yaml:"doip"`
}

// CANTransportSpec configures an ISO-TP/CAN adapter.
type CANTransportSpec struct {
	Interface string `yaml:"interface"`
	TxID      uint32 `yaml:"tx_id"`
	RxID      uint32 `yaml:"rx_id"`
	Extended  bool   `yaml:"extended"`
}

// DoIPTransportSpec configures a DoIP/TCP adapter.
type DoIPTransportSpec struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	SourceAddress    uint16 `yaml:"source_address"`
	TargetAddress    uint16 `yaml:"target_address"`
	TLS              bool   `yaml:"tls"`
	AliveCheckPeriod int    `yaml:"alive_check_period_s"`
}

// OperationSpec names one routine-control operation (spec.md §4.6).
type OperationSpec struct {
	Name         string `yaml:"name"`
	RoutineID    uint16 `yaml:"routine_id"`
	SecurityLevel int   `yaml:"security_level"`
}

// OutputSpec names one I/O-control output (spec.md §4.6).
type OutputSpec struct {
	Name          string `yaml:"name"`
	DID           uint16 `yaml:"did"`
	SecurityLevel int    `yaml:"security_level"`
}

// SessionPolicySpec configures the keepalive timer (spec.md §4.4).
type SessionPolicySpec struct {
	KeepaliveMS int `yaml:"keepalive_ms"`
}

// SecurityPolicySpec names the environment variable carrying this ECU's
// seed/key secret and per-reference required levels (spec.md §4.4, §1
// Non-goals: "the key computation is a pluggable hook", so only the
// secret lookup is config-driven; the signer itself is supplied by the
// process entrypoint).
type SecurityPolicySpec struct {
	SecretEnv         string         `yaml:"secret_env"`
	RequiredLevels    map[string]int `yaml:"required_levels"`
	SupportsRollback  bool           `yaml:"supports_rollback"`
}

// ParameterRefSpec declares a data parameter by DID hex or semantic name
// already present in the shared catalog, plus its optional precondition.
type ParameterRefSpec struct {
	Ref           string `yaml:"ref"`
	SecurityLevel int    `yaml:"security_level"`
}

// FlashRoutinesSpec names the routine-control identifiers the flash state
// machine calls on commit/rollback (spec.md §4.9: "Commit/rollback call
// the routines declared in config").
type FlashRoutinesSpec struct {
	CommitRoutineID   uint16 `yaml:"commit_routine_id"`
	RollbackRoutineID uint16 `yaml:"rollback_routine_id"`
}

// DiscoverySpec carries the metadata that lets this ECU be found through
// the SOVD /discovery route (spec.md §9 supplemented feature), distinct
// from the DoIP-level VIR/VAM broadcast.
type DiscoverySpec struct {
	VIN        string `yaml:"vin"`
	PartNumber string `yaml:"part_number"`
}

// ECUConfig is one leaf UDS backend's full declarative configuration
// (spec.md §6: "ECU configs likewise declare transport, parameters,
// operations, outputs, session and security policies, and
// flash-commit routines").
type ECUConfig struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Transport   TransportSpec      `yaml:"transport"`
	Parameters  []ParameterRefSpec `yaml:"parameters"`
	Operations  []OperationSpec    `yaml:"operations"`
	Outputs     []OutputSpec       `yaml:"outputs"`
	Session     SessionPolicySpec  `yaml:"session_policy"`
	Security    SecurityPolicySpec `yaml:"security_policy"`
	Flash       FlashRoutinesSpec  `yaml:"flash_routines"`
	Discovery   DiscoverySpec      `yaml:"discovery"`
}

// LoadECUConfig parses one ECU's YAML config document.
func LoadECUConfig(path string) (*ECUConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Internal("config: read ECU config", err)
	}
	var cfg ECUConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Internal("config: parse ECU config", err)
	}
	if cfg.ID == "" {
		return nil, errors.InvalidRequest("ECU config missing id")
	}
	return &cfg, nil
}

// Secret reads this ECU's seed/key secret from its configured
// environment variable, following the teacher's EnvOrSecret priority
// pattern minus the TEE/Marble secret store (no such backend exists in
// this domain): `SOVD_SECRET_<ECU>` when secret_env is unset
// (spec.md §6.3).
func (c ECUConfig) Secret() (string, error) {
	envKey := c.Security.SecretEnv
	if envKey == "" {
		envKey = "SOVD_SECRET_" + strings.ToUpper(c.ID)
	}
	value := strings.TrimSpace(os.Getenv(envKey))
	if value == "" {
		return "", errors.Internal(fmt.Sprintf("config: secret %s not set for ECU %q", envKey, c.ID), nil)
	}
	return value, nil
}

// AppEntityConfig is a gateway's composite "app" entity: it names one
// managed ECU proxy and optionally exposes synthetic parameters
// (spec.md §4.8, §9 supplemented feature).
//
// A deprecated top-level `parameters` block is still accepted for
// backward compatibility; on load it is migrated into a synthesized
// `managed_ecu` entry rather than renumbered (Open Question (a),
// DESIGN.md: "migrate without renumbering; collisions are rejected at
// config-load time").
type AppEntityConfig struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	ManagedECU  string             `yaml:"managed_ecu"`

	// Parameters is the deprecated top-level block. When present and
	// ManagedECU is unset, the synthesized managed_ecu is "<id>_managed".
	Parameters []ParameterRefSpec `yaml:"parameters"`
}

// LoadAppEntityConfig parses an app entity's YAML config document,
// migrating the deprecated top-level `parameters` block when present.
func LoadAppEntityConfig(path string) (*AppEntityConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Internal("config: read app entity config", err)
	}
	var cfg AppEntityConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Internal("config: parse app entity config", err)
	}
	if cfg.ID == "" {
		return nil, errors.InvalidRequest("app entity config missing id")
	}
	if len(cfg.Parameters) > 0 {
		if cfg.ManagedECU != "" {
			return nil, errors.InvalidRequest(
				fmt.Sprintf("app entity %q declares both managed_ecu and the deprecated top-level parameters block", cfg.ID))
		}
		synthesized := cfg.ID + "_managed"
		cfg.ManagedECU = synthesized
	}
	return &cfg, nil
}
