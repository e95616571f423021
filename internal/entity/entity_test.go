package entity

import (
	"context"
	"testing"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// fakeLeaf is a minimal Backend used to exercise federation/composite
// routing without pulling in a UDS transport.
type fakeLeaf struct {
	info Info
}

func newFakeLeaf(id string) *fakeLeaf {
	return &fakeLeaf{info: Info{ID: id, Name: id, Kind: "ecu", Capabilities: UDSCapabilities()}}
}

func (f *fakeLeaf) Info() Info { return f.info }
func (f *fakeLeaf) ReadParameter(ctx context.Context, ref string) (Parameter, error) {
	return Parameter{ID: ref, Value: 42}, nil
}
func (f *fakeLeaf) ReadBatch(ctx context.Context, refs []string) ([]Parameter, []error) {
	return nil, nil
}
func (f *fakeLeaf) WriteParameter(ctx context.Context, ref string, value interface{}) error {
	return nil
}
func (f *fakeLeaf) ListFaults(ctx context.Context, filter FaultFilter) (FaultsResult, error) {
	return FaultsResult{}, nil
}
func (f *fakeLeaf) FaultDetail(ctx context.Context, code string) (Fault, error) { return Fault{}, nil }
func (f *fakeLeaf) ClearFaults(ctx context.Context) error                       { return nil }
func (f *fakeLeaf) StartOperation(ctx context.Context, name string, params map[string]interface{}) (OperationResult, error) {
	return OperationResult{}, nil
}
func (f *fakeLeaf) StopOperation(ctx context.Context, name string) (OperationResult, error) {
	return OperationResult{}, nil
}
func (f *fakeLeaf) OperationResults(ctx context.Context, name string) (OperationResult, error) {
	return OperationResult{}, nil
}
func (f *fakeLeaf) Actuate(ctx context.Context, output, action string, value interface{}) (OutputResult, error) {
	return OutputResult{}, nil
}
func (f *fakeLeaf) Reset(ctx context.Context, kind string) (ResetResult, error) {
	return ResetResult{}, nil
}
func (f *fakeLeaf) SubEntity(ctx context.Context, childID string) (Backend, error) {
	return nil, errors.EntityNotFound(childID)
}

var _ Backend = (*fakeLeaf)(nil)

func TestSplitEntityPrefix(t *testing.T) {
	head, rest := SplitEntityPrefix("a/b/c")
	if head != "a" || rest != "b/c" {
		t.Fatalf("got (%q, %q)", head, rest)
	}
	head, rest = SplitEntityPrefix("solo")
	if head != "solo" || rest != "" {
		t.Fatalf("got (%q, %q)", head, rest)
	}
}

func TestStripEntityPrefix(t *testing.T) {
	rest, ok := StripEntityPrefix("gw/ecu1", "gw")
	if !ok || rest != "ecu1" {
		t.Fatalf("got (%q, %v)", rest, ok)
	}
	if _, ok := StripEntityPrefix("other/ecu1", "gw"); ok {
		t.Fatal("expected no match for a different prefix")
	}
}

func TestPrefixedID(t *testing.T) {
	if got := PrefixedID("ecu1", nil); got != "ecu1" {
		t.Fatalf("expected unprefixed id, got %q", got)
	}
	parent := "gw"
	if got := PrefixedID("ecu1", &parent); got != "gw/ecu1" {
		t.Fatalf("expected gw/ecu1, got %q", got)
	}
}

func TestFederationResolveRoot(t *testing.T) {
	leaf := newFakeLeaf("ecu1")
	f := NewFederation(map[string]Backend{"ecu1": leaf})
	got, err := f.Resolve(context.Background(), "ecu1")
	if err != nil || got != Backend(leaf) {
		t.Fatalf("expected root resolve to find ecu1, got %v, %v", got, err)
	}
}

func TestFederationResolveUnknownRoot(t *testing.T) {
	f := NewFederation(map[string]Backend{})
	if _, err := f.Resolve(context.Background(), "missing"); err == nil {
		t.Fatal("expected entity-not-found for an unknown root")
	}
}

func TestFederationResolveNested(t *testing.T) {
	child := newFakeLeaf("ecu1")
	gw := NewComposite("gw", "Gateway", "")
	gw.Register("ecu1", child)
	f := NewFederation(map[string]Backend{"gw": gw})

	got, err := f.Resolve(context.Background(), "gw/ecu1")
	if err != nil || got != Backend(child) {
		t.Fatalf("expected nested resolve to find ecu1, got %v, %v", got, err)
	}
}

func TestFederationResolveNestedUnknownChild(t *testing.T) {
	gw := NewComposite("gw", "Gateway", "")
	f := NewFederation(map[string]Backend{"gw": gw})
	if _, err := f.Resolve(context.Background(), "gw/missing"); err == nil {
		t.Fatal("expected entity-not-found for an unknown nested child")
	}
}

func TestCompositeFoldsChildCapabilities(t *testing.T) {
	gw := NewComposite("gw", "Gateway", "")
	if gw.Info().Capabilities.ReadData {
		t.Fatal("a fresh gateway should not claim read_data before any child is registered")
	}
	gw.Register("ecu1", newFakeLeaf("ecu1"))
	if !gw.Info().Capabilities.ReadData {
		t.Fatal("expected read_data to fold in once a UDS-capable child is registered")
	}
	if !gw.Info().Capabilities.SubEntities {
		t.Fatal("a gateway always advertises sub_entities")
	}
}

func TestCompositeNotSupportedOnLeafOperations(t *testing.T) {
	gw := NewComposite("gw", "Gateway", "")
	if _, err := gw.ReadParameter(context.Background(), "x"); err == nil {
		t.Fatal("expected a bare gateway to reject read_data")
	}
}

func TestAppEntitySyntheticParam(t *testing.T) {
	app := NewAppEntity("app1", "App", "")
	app.RegisterSynthetic("health_score", func(ctx context.Context) (interface{}, error) {
		return 97, nil
	})
	p, err := app.ReadParameter(context.Background(), "health_score")
	if err != nil || p.Value != 97 {
		t.Fatalf("expected synthetic param to resolve to 97, got %+v, %v", p, err)
	}
	if _, err := app.ReadParameter(context.Background(), "unknown"); err == nil {
		t.Fatal("expected parameter-not-found for an unregistered synthetic param")
	}
}

func TestAppEntityManagedSubEntity(t *testing.T) {
	app := NewAppEntity("app1", "App", "")
	if _, err := app.ManagedSubEntity(context.Background()); err == nil {
		t.Fatal("expected conflict with no managed sub-entity configured")
	}

	child := newFakeLeaf("ecu1")
	app.Register("ecu1", child)
	app.SetManaged("ecu1", nil)
	got, err := app.ManagedSubEntity(context.Background())
	if err != nil || got != Backend(child) {
		t.Fatalf("expected managed sub-entity to resolve to ecu1, got %v, %v", got, err)
	}
}

func TestAppEntityRewriteFirmwarePassthrough(t *testing.T) {
	app := NewAppEntity("app1", "App", "")
	data := []byte{1, 2, 3}
	got, err := app.RewriteFirmware(data)
	if err != nil || string(got) != string(data) {
		t.Fatalf("expected passthrough with no rewriter configured, got %v, %v", got, err)
	}

	app.SetManaged("", func(d []byte) ([]byte, error) {
		out := make([]byte, len(d))
		for i, b := range d {
			out[i] = b + 1
		}
		return out, nil
	})
	got, err = app.RewriteFirmware(data)
	if err != nil || string(got) != string([]byte{2, 3, 4}) {
		t.Fatalf("expected rewriter to apply, got %v, %v", got, err)
	}
}
