package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadCatalogScalarDID(t *testing.T) {
	path := writeTemp(t, "catalog.yaml", `
meta:
  name: demo
  version: "1"
dids:
  F405:
    name: engine_rpm
    type: u16
    scale: 0.25
    unit: rpm
    min: 0
    max: 8000
`)
	store, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	def, ok := store.LookupName("engine_rpm")
	if !ok {
		t.Fatal("expected engine_rpm to be registered")
	}
	if def.DID != 0xF405 || def.Scale != 0.25 || !def.Bounds.Active || def.Bounds.Max != 8000 {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestLoadCatalogArrayAndMatrix(t *testing.T) {
	path := writeTemp(t, "catalog.yaml", `
dids:
  F410:
    name: wheel_speeds
    type: u8
    array: 4
  F420:
    name: torque_map
    type: u8
    map:
      - name: rpm
        breakpoints: [1000, 2000, 3000]
      - name: load
        breakpoints: [10, 20]
`)
	store, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	arr, ok := store.LookupName("wheel_speeds")
	if !ok || arr.Shape.ElementCount() != 4 {
		t.Fatalf("expected a 4-element array shape, got %+v (ok=%v)", arr.Shape, ok)
	}
	mat, ok := store.LookupName("torque_map")
	if !ok || mat.Shape.ElementCount() != 6 {
		t.Fatalf("expected a 3x2 matrix shape, got %+v (ok=%v)", mat.Shape, ok)
	}
}

func TestLoadCatalogDefaultsScaleToOne(t *testing.T) {
	path := writeTemp(t, "catalog.yaml", `
dids:
  F500:
    name: odometer
    type: u32
`)
	store, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	def, _ := store.LookupName("odometer")
	if def.Scale != 1.0 {
		t.Fatalf("expected default scale 1.0, got %v", def.Scale)
	}
}

func TestLoadCatalogRejectsBadDIDHex(t *testing.T) {
	path := writeTemp(t, "catalog.yaml", `
dids:
  not-hex:
    name: bogus
    type: u8
`)
	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("expected an invalid DID hex key to be rejected")
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected a missing file to error")
	}
}
