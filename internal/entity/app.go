package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// SyntheticParam computes a derived value (e.g. a health score) owned
// entirely by the app entity, with no backing UDS parameter (spec.md
// §4.8).
type SyntheticParam func(ctx context.Context) (interface{}, error)

// FlashRewriter rewrites or signs a firmware image before it is delegated
// to the managed sub-entity (spec.md §4.8, §9 supplemented feature).
type FlashRewriter func(data []byte) ([]byte, error)

// AppEntity is a composite that also exposes synthetic parameters and may
// wrap a single *managed* sub-entity (typically a proxy to a supplier's
// ECU) onto which it intercepts flash uploads (spec.md §4.8).
type AppEntity struct {
	*Composite

	synthetic  map[string]SyntheticParam
	managedID  string // child id of the managed sub-entity, "" if none
	rewriter   FlashRewriter
}

// NewAppEntity builds an app entity with no managed sub-entity yet.
func NewAppEntity(id, name, description string) *AppEntity {
	c := NewComposite(id, name, description)
	c.info.Kind = "app"
	return &AppEntity{Composite: c, synthetic: make(map[string]SyntheticParam)}
}

// RegisterSynthetic adds a derived parameter with no backing UDS DID.
func (a *AppEntity) RegisterSynthetic(name string, fn SyntheticParam) {
	a.synthetic[name] = fn
}

// SetManaged names the child that receives intercepted flash uploads and
// an optional rewrite/sign hook applied before delegation (spec.md §4.8,
// §9).
func (a *AppEntity) SetManaged(childID string, rewriter FlashRewriter) {
	a.managedID = childID
	a.rewriter = rewriter
}

// ReadParameter resolves synthetic parameters locally; anything else is
// parameter-not-found at the app-entity level itself (a caller that wants the
// managed ECU's parameters addresses it via its own prefixed path,
// spec.md §4.8).
func (a *AppEntity) ReadParameter(ctx context.Context, ref string) (Parameter, error) {
	fn, ok := a.synthetic[ref]
	if !ok {
		return Parameter{}, errors.ParameterNotFound(ref)
	}
	v, err := fn(ctx)
	if err != nil {
		return Parameter{}, err
	}
	return Parameter{ID: ref, Value: v, Timestamp: time.Now()}, nil
}

// ReadBatch resolves each ref independently; per-item failures do not
// abort the batch (spec.md §4.6).
func (a *AppEntity) ReadBatch(ctx context.Context, refs []string) ([]Parameter, []error) {
	params := make([]Parameter, len(refs))
	errs := make([]error, len(refs))
	for i, ref := range refs {
		p, err := a.ReadParameter(ctx, ref)
		params[i] = p
		errs[i] = err
	}
	return params, errs
}

// RewriteFirmware applies the configured hook, or passes data through
// unchanged when no hook is configured.
func (a *AppEntity) RewriteFirmware(data []byte) ([]byte, error) {
	if a.rewriter == nil {
		return data, nil
	}
	return a.rewriter(data)
}

// ManagedSubEntity resolves the app entity's declared managed child, if
// any.
func (a *AppEntity) ManagedSubEntity(ctx context.Context) (Backend, error) {
	if a.managedID == "" {
		return nil, errors.Conflict("app entity has no managed sub-entity configured")
	}
	return a.SubEntity(ctx, a.managedID)
}

var _ Backend = (*AppEntity)(nil)

func (a *AppEntity) String() string {
	return fmt.Sprintf("app(%s managed=%s)", a.info.ID, a.managedID)
}
