package backend

import (
	"context"
	"testing"

	"github.com/r3e-network/sovd-gateway/internal/conv"
	"github.com/r3e-network/sovd-gateway/internal/entity"
	"github.com/r3e-network/sovd-gateway/internal/session"
	"github.com/r3e-network/sovd-gateway/internal/transport"
	"github.com/r3e-network/sovd-gateway/internal/uds"
)

func newTestBackend(t *testing.T) (*UDSBackend, *transport.Mock, *conv.Store) {
	t.Helper()
	tr := transport.NewMock(transport.AddressInfo{})
	client := uds.NewClient(tr, "ecu1", nil)
	sess := session.New(client, nil, func(secret, seed []byte) ([]byte, error) { return seed, nil }, 0)
	t.Cleanup(sess.Close)

	store := conv.NewStore(conv.Meta{})
	if err := store.Register(conv.Definition{DID: 0xF410, Name: "engine_rpm", Type: conv.TypeU16, Order: conv.BigEndian, Shape: conv.ScalarShape(), Scale: 0.25}); err != nil {
		t.Fatalf("register: %v", err)
	}

	b := NewUDSBackend(Config{
		ID: "ecu1", Name: "Test ECU", Capabilities: entity.UDSCapabilities(),
		Client: client, Session: sess, Store: store, Log: nil,
	})
	return b, tr, store
}

func TestReadParameterDecodesViaStore(t *testing.T) {
	b, tr, _ := newTestBackend(t)
	tr.AddResponse([]byte{0x22, 0xF4, 0x10}, []byte{0x62, 0xF4, 0x10, 0x01, 0x90})

	p, err := b.ReadParameter(context.Background(), "engine_rpm")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v, ok := p.Value.(int64); !ok || v != 100 {
		t.Fatalf("expected decoded value 100, got %#v", p.Value)
	}
	if p.DID != "F410" {
		t.Fatalf("expected DID F410, got %q", p.DID)
	}
}

func TestReadParameterCapabilityGuard(t *testing.T) {
	b, _, _ := newTestBackend(t)
	b.info.Capabilities.ReadData = false
	if _, err := b.ReadParameter(context.Background(), "engine_rpm"); err == nil {
		t.Fatal("expected not-supported when read_data capability is disabled")
	}
}

func TestReadParameterSecurityPrecondition(t *testing.T) {
	b, _, _ := newTestBackend(t)
	b.RequireSecurityFor("engine_rpm", 1)
	if _, err := b.ReadParameter(context.Background(), "engine_rpm"); err == nil {
		t.Fatal("expected security-required while locked")
	}
}

func TestWriteParameterEncodesAndSends(t *testing.T) {
	b, tr, _ := newTestBackend(t)
	tr.AddResponse([]byte{0x2E, 0xF4, 0x10, 0x01, 0x90}, []byte{0x6E, 0xF4, 0x10})

	if err := b.WriteParameter(context.Background(), "engine_rpm", float64(100)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListFaultsParsesDefaultCannedRecords(t *testing.T) {
	b, _, _ := newTestBackend(t)
	result, err := b.ListFaults(context.Background(), entity.FaultFilter{})
	if err != nil {
		t.Fatalf("list faults: %v", err)
	}
	if len(result.Faults) != 2 {
		t.Fatalf("expected 2 DTC records, got %d: %+v", len(result.Faults), result.Faults)
	}
	if result.Faults[0].Code != "012345" || !result.Faults[0].Active {
		t.Fatalf("unexpected first fault: %+v", result.Faults[0])
	}
	if result.Faults[1].Code != "067890" || result.Faults[1].Active {
		t.Fatalf("unexpected second fault: %+v", result.Faults[1])
	}
}

func TestListFaultsActiveOnlyFilter(t *testing.T) {
	b, _, _ := newTestBackend(t)
	result, err := b.ListFaults(context.Background(), entity.FaultFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list faults: %v", err)
	}
	if len(result.Faults) != 1 || !result.Faults[0].Active {
		t.Fatalf("expected only the active fault, got %+v", result.Faults)
	}
}

func TestClearFaultsUsesDefaultCannedResponse(t *testing.T) {
	b, _, _ := newTestBackend(t)
	if err := b.ClearFaults(context.Background()); err != nil {
		t.Fatalf("clear faults: %v", err)
	}
}

func TestStartOperationRoutineControl(t *testing.T) {
	b, tr, _ := newTestBackend(t)
	b.RegisterOperation("self_test", Operation{RoutineID: 0x0001})
	tr.AddResponse([]byte{0x31, 0x01, 0x00, 0x01}, []byte{0x71, 0x01, 0x00, 0x01})

	result, err := b.StartOperation(context.Background(), "self_test", nil)
	if err != nil {
		t.Fatalf("start operation: %v", err)
	}
	if result.Status != "completed" {
		t.Fatalf("expected completed status, got %+v", result)
	}
}

func TestStartOperationUnknownName(t *testing.T) {
	b, _, _ := newTestBackend(t)
	if _, err := b.StartOperation(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected operation-not-found for an unregistered name")
	}
}

func TestActuateOutputReturnToECU(t *testing.T) {
	b, tr, _ := newTestBackend(t)
	b.RegisterOutput("cooling_fan", Output{DID: 0xF410})
	tr.AddResponse([]byte{0x2F, 0xF4, 0x10, 0x00}, []byte{0x6F, 0xF4, 0x10, 0x00, 0x01, 0x90})

	result, err := b.Actuate(context.Background(), "cooling_fan", "return_to_ecu", nil)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if result.Raw == "" {
		t.Fatalf("expected a raw hex payload, got %+v", result)
	}
	if v, ok := result.Value.(int64); !ok || v != 100 {
		t.Fatalf("expected decoded value 100, got %#v", result.Value)
	}
}

func TestActuateUnknownOutput(t *testing.T) {
	b, _, _ := newTestBackend(t)
	if _, err := b.Actuate(context.Background(), "missing", "return_to_ecu", nil); err == nil {
		t.Fatal("expected output-not-found for an unregistered name")
	}
}

func TestResetIssuesECUResetAndNotifiesSession(t *testing.T) {
	b, tr, _ := newTestBackend(t)
	_ = b.Session().ChangeSession(context.Background(), session.Extended)
	tr.AddResponse([]byte{0x11, 0x01}, []byte{0x51, 0x01, 0x0A})

	result, err := b.Reset(context.Background(), "hard")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if result.PowerDownTime == nil || *result.PowerDownTime != 0x0A {
		t.Fatalf("expected power-down time 0x0A, got %+v", result)
	}
	if b.Session().Snapshot().Session != session.Default {
		t.Fatal("expected reset to return the session machine to Default")
	}
}

func TestResetRejectsUnknownKind(t *testing.T) {
	b, _, _ := newTestBackend(t)
	if _, err := b.Reset(context.Background(), "bogus"); err == nil {
		t.Fatal("expected an unknown reset kind to be rejected")
	}
}

func TestInstallAndClearDynamicDID(t *testing.T) {
	b, tr, store := newTestBackend(t)
	sources := []conv.DynamicSource{{SourceDID: 0xF410, Position1: 1, ByteCount: 2}}

	tr.AddResponse([]byte{0x2C, 0x01, 0xF2, 0x00, 0xF4, 0x10, 0x01, 0x02}, []byte{0x6C, 0x01})
	if err := b.InstallDynamicDID(context.Background(), 0xF200, sources); err != nil {
		t.Fatalf("install dynamic did: %v", err)
	}
	if _, ok := store.Lookup(0xF200); !ok {
		t.Fatal("expected dynamic DID to be registered in the store")
	}

	tr.AddResponse([]byte{0x2C, 0x03, 0xF2, 0x00}, []byte{0x6C, 0x03})
	if err := b.ClearDynamicDID(context.Background(), 0xF200); err != nil {
		t.Fatalf("clear dynamic did: %v", err)
	}
	if _, ok := store.Lookup(0xF200); ok {
		t.Fatal("expected dynamic DID to be unregistered after clear")
	}
}

func TestRequestSeedAndUnlock(t *testing.T) {
	b, tr, _ := newTestBackend(t)
	_ = b.Session().ChangeSession(context.Background(), session.Extended)
	b.SetSecret([]byte("secret"))

	tr.AddResponse([]byte{0x27, 0x01}, []byte{0x67, 0x01, 0xAA, 0xBB})
	seed, err := b.RequestSeed(context.Background(), 1)
	if err != nil {
		t.Fatalf("request seed: %v", err)
	}

	tr.AddResponse(append([]byte{0x27, 0x02}, seed...), []byte{0x67, 0x02})
	if err := b.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if b.Session().Snapshot().Security.Kind != session.Unlocked {
		t.Fatal("expected session to be unlocked after Unlock")
	}
}

func TestUnlockWithoutSeedIsConflict(t *testing.T) {
	b, _, _ := newTestBackend(t)
	if err := b.Unlock(context.Background()); err == nil {
		t.Fatal("expected conflict unlocking with no outstanding seed")
	}
}
