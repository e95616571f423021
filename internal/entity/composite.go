package entity

import (
	"context"
	"sync"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// Composite is a gateway entity that owns a map of child entities and
// routes prefixed ids to them (spec.md §4.8). Its own capabilities reflect
// only aggregation: sub_entities plus the union of any child capability,
// mirroring the original's per-capability OR across registered children.
type Composite struct {
	info     Info
	mu       sync.RWMutex
	children map[string]Backend
}

// NewComposite builds an empty gateway entity.
func NewComposite(id, name, description string) *Composite {
	return &Composite{
		info: Info{
			ID: id, Name: name, Kind: "gateway", Description: description,
			Status: "running", Capabilities: GatewayCapabilities(),
		},
		children: make(map[string]Backend),
	}
}

// Register adds a child entity, exclusively owned by this composite
// (spec.md §3 ownership), and folds its capabilities into the gateway's
// own advertised set.
func (c *Composite) Register(id string, child Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children[id] = child
	c.foldCapabilities(child.Info().Capabilities)
}

func (c *Composite) foldCapabilities(child Capabilities) {
	c.info.Capabilities.ReadData = c.info.Capabilities.ReadData || child.ReadData
	c.info.Capabilities.WriteData = c.info.Capabilities.WriteData || child.WriteData
	c.info.Capabilities.Faults = c.info.Capabilities.Faults || child.Faults
	c.info.Capabilities.ClearFaults = c.info.Capabilities.ClearFaults || child.ClearFaults
	c.info.Capabilities.Logs = c.info.Capabilities.Logs || child.Logs
	c.info.Capabilities.Operations = c.info.Capabilities.Operations || child.Operations
	c.info.Capabilities.SoftwareUpdate = c.info.Capabilities.SoftwareUpdate || child.SoftwareUpdate
	c.info.Capabilities.IOControl = c.info.Capabilities.IOControl || child.IOControl
	c.info.Capabilities.Sessions = c.info.Capabilities.Sessions || child.Sessions
	c.info.Capabilities.Security = c.info.Capabilities.Security || child.Security
	c.info.Capabilities.Subscriptions = c.info.Capabilities.Subscriptions || child.Subscriptions
}

func (c *Composite) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Composite) SubEntity(ctx context.Context, childID string) (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child, ok := c.children[childID]
	if !ok {
		return nil, errors.EntityNotFound(childID)
	}
	return child, nil
}

// Children returns a snapshot of the child map for listing endpoints.
func (c *Composite) Children() map[string]Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Backend, len(c.children))
	for k, v := range c.children {
		out[k] = v
	}
	return out
}

// A gateway has no data/faults/operations/outputs/session of its own: every
// such call fails not-supported, even when a folded child capability has
// set the matching flag. These methods exist to satisfy the Backend interface.

func (c *Composite) ReadParameter(ctx context.Context, ref string) (Parameter, error) {
	return Parameter{}, errors.NotSupported("read_data")
}
func (c *Composite) ReadBatch(ctx context.Context, refs []string) ([]Parameter, []error) {
	errs := make([]error, len(refs))
	for i := range refs {
		errs[i] = errors.NotSupported("read_data")
	}
	return nil, errs
}
func (c *Composite) WriteParameter(ctx context.Context, ref string, value interface{}) error {
	return errors.NotSupported("write_data")
}
func (c *Composite) ListFaults(ctx context.Context, filter FaultFilter) (FaultsResult, error) {
	return FaultsResult{}, errors.NotSupported("faults")
}
func (c *Composite) FaultDetail(ctx context.Context, code string) (Fault, error) {
	return Fault{}, errors.NotSupported("faults")
}
func (c *Composite) ClearFaults(ctx context.Context) error { return errors.NotSupported("clear_faults") }
func (c *Composite) StartOperation(ctx context.Context, name string, params map[string]interface{}) (OperationResult, error) {
	return OperationResult{}, errors.NotSupported("operations")
}
func (c *Composite) StopOperation(ctx context.Context, name string) (OperationResult, error) {
	return OperationResult{}, errors.NotSupported("operations")
}
func (c *Composite) OperationResults(ctx context.Context, name string) (OperationResult, error) {
	return OperationResult{}, errors.NotSupported("operations")
}
func (c *Composite) Actuate(ctx context.Context, output, action string, value interface{}) (OutputResult, error) {
	return OutputResult{}, errors.NotSupported("io_control")
}
func (c *Composite) Reset(ctx context.Context, kind string) (ResetResult, error) {
	return ResetResult{}, errors.NotSupported("sessions")
}

var _ Backend = (*Composite)(nil)
