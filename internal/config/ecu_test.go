package config

import (
	"os"
	"testing"
)

func TestLoadECUConfigParsesFullDocument(t *testing.T) {
	path := writeTemp(t, "ecu.yaml", `
id: ecu1
name: Engine Control
transport:
  kind: isotp
  can:
    interface: can0
    tx_id: 0x700
    rx_id: 0x708
parameters:
  - ref: engine_rpm
operations:
  - name: self_test
    routine_id: 1
    security_level: 1
outputs:
  - name: cooling_fan
    did: 0xF410
session_policy:
  keepalive_ms: 1500
security_policy:
  secret_env: ECU1_SECRET
  supports_rollback: true
flash_routines:
  commit_routine_id: 0x10
  rollback_routine_id: 0x11
discovery:
  vin: WF0XXXGCDX1234567
  part_number: PN-001
`)
	cfg, err := LoadECUConfig(path)
	if err != nil {
		t.Fatalf("load ecu config: %v", err)
	}
	if cfg.ID != "ecu1" || cfg.Transport.Kind != "isotp" || cfg.Transport.CAN.Interface != "can0" {
		t.Fatalf("unexpected transport: %+v", cfg.Transport)
	}
	if len(cfg.Operations) != 1 || cfg.Operations[0].RoutineID != 1 {
		t.Fatalf("unexpected operations: %+v", cfg.Operations)
	}
	if !cfg.Security.SupportsRollback {
		t.Fatal("expected supports_rollback to be true")
	}
	if cfg.Discovery.VIN != "WF0XXXGCDX1234567" {
		t.Fatalf("unexpected discovery block: %+v", cfg.Discovery)
	}
}

func TestLoadECUConfigRequiresID(t *testing.T) {
	path := writeTemp(t, "ecu.yaml", `
name: No ID
`)
	if _, err := LoadECUConfig(path); err == nil {
		t.Fatal("expected a missing id to be rejected")
	}
}

func TestECUConfigSecretFallsBackToDerivedEnvVar(t *testing.T) {
	t.Setenv("SOVD_SECRET_ECU1", "s3cr3t")
	cfg := ECUConfig{ID: "ecu1"}
	secret, err := cfg.Secret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	if secret != "s3cr3t" {
		t.Fatalf("expected derived env var value, got %q", secret)
	}
}

func TestECUConfigSecretUsesExplicitEnvVar(t *testing.T) {
	t.Setenv("CUSTOM_SECRET", "xyz")
	cfg := ECUConfig{ID: "ecu1", Security: SecurityPolicySpec{SecretEnv: "CUSTOM_SECRET"}}
	secret, err := cfg.Secret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	if secret != "xyz" {
		t.Fatalf("expected explicit env var value, got %q", secret)
	}
}

func TestECUConfigSecretMissingIsError(t *testing.T) {
	os.Unsetenv("SOVD_SECRET_ECU2")
	cfg := ECUConfig{ID: "ecu2"}
	if _, err := cfg.Secret(); err == nil {
		t.Fatal("expected an unset secret env var to error")
	}
}

func TestLoadAppEntityConfigMigratesDeprecatedParameters(t *testing.T) {
	path := writeTemp(t, "app.yaml", `
id: app1
name: App
parameters:
  - ref: health_score
`)
	cfg, err := LoadAppEntityConfig(path)
	if err != nil {
		t.Fatalf("load app entity config: %v", err)
	}
	if cfg.ManagedECU != "app1_managed" {
		t.Fatalf("expected migrated managed_ecu app1_managed, got %q", cfg.ManagedECU)
	}
}

func TestLoadAppEntityConfigRejectsBothManagedAndDeprecated(t *testing.T) {
	path := writeTemp(t, "app.yaml", `
id: app1
managed_ecu: ecu1
parameters:
  - ref: health_score
`)
	if _, err := LoadAppEntityConfig(path); err == nil {
		t.Fatal("expected declaring both managed_ecu and parameters to be rejected")
	}
}

func TestLoadAppEntityConfigRequiresID(t *testing.T) {
	path := writeTemp(t, "app.yaml", `
name: No ID
`)
	if _, err := LoadAppEntityConfig(path); err == nil {
		t.Fatal("expected a missing id to be rejected")
	}
}
