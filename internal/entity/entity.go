// Package entity implements the diagnostic-entity contract and the
// federation layer (spec.md §3, §4.8): a polymorphic entity tree with
// capability-gated dispatch and "a/b/c" prefix routing.
package entity

import (
	"context"
	"strings"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// Capabilities is the fixed set of boolean operation flags (spec.md §3).
// An operation must fail not-supported on a false flag before any I/O is
// attempted (spec.md §8 "Backend capability guard" invariant).
type Capabilities struct {
	ReadData       bool
	WriteData      bool
	Faults         bool
	ClearFaults    bool
	Logs           bool
	Operations     bool
	SoftwareUpdate bool
	IOControl      bool
	Sessions       bool
	Security       bool
	SubEntities    bool
	Subscriptions  bool
}

// UDSCapabilities is the typical flag set for a leaf UDS ECU.
func UDSCapabilities() Capabilities {
	return Capabilities{
		ReadData: true, WriteData: true, Faults: true, ClearFaults: true,
		Operations: true, SoftwareUpdate: true, IOControl: true,
		Sessions: true, Security: true, Subscriptions: true,
	}
}

// GatewayCapabilities is the flag set for a pure aggregation node: nothing
// until a registered child advertises it (spec.md §4.8).
func GatewayCapabilities() Capabilities {
	return Capabilities{SubEntities: true}
}

// Info is the constant-time, read-only description of an entity
// (spec.md §3).
type Info struct {
	ID           string
	Name         string
	Kind         string // "ecu", "app", "gateway", ...
	Description  string
	Status       string
	Capabilities Capabilities
}

// Parameter is a read/write result envelope (spec.md §4.6).
type Parameter struct {
	ID        string      `json:"id"`
	Value     interface{} `json:"value"`
	Raw       string      `json:"raw"`
	DID       string      `json:"did"`
	Length    int         `json:"length"`
	Unit      string      `json:"unit,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Fault mirrors the data model in spec.md §3.
type Fault struct {
	Code            string                 `json:"code"`
	Severity        string                 `json:"severity"`
	Message         string                 `json:"message"`
	Category        string                 `json:"category,omitempty"`
	FirstOccurrence time.Time              `json:"first_occurrence"`
	LastOccurrence  time.Time              `json:"last_occurrence"`
	OccurrenceCount int                    `json:"occurrence_count"`
	Active          bool                   `json:"active"`
	Status          map[string]interface{} `json:"status,omitempty"`
}

// FaultFilter narrows a fault listing (spec.md §4.6).
type FaultFilter struct {
	Severity   string
	Category   string
	ActiveOnly bool
	Since      time.Time
	Limit      int
}

// FaultsResult wraps a fault listing with its availability mask
// (spec.md §4.6).
type FaultsResult struct {
	Faults          []Fault `json:"faults"`
	AvailabilityMask byte   `json:"availability_mask"`
}

// OperationResult is the outcome of start/stop/request_results
// (spec.md §4.6).
type OperationResult struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// OutputResult is the outcome of an I/O control actuation (spec.md §4.6).
type OutputResult struct {
	Raw   string      `json:"raw"`
	Value interface{} `json:"value"`
}

// ResetResult is the outcome of an ECU reset (spec.md §4.6).
type ResetResult struct {
	PowerDownTime *byte `json:"power_down_time,omitempty"`
}

// Backend is the diagnostic-entity contract every leaf and composite node
// implements (spec.md §3, §4.6-§4.8). All I/O-bearing methods accept a
// context for cancellation/deadlines (spec.md §5).
type Backend interface {
	Info() Info

	ReadParameter(ctx context.Context, ref string) (Parameter, error)
	ReadBatch(ctx context.Context, refs []string) ([]Parameter, []error)
	WriteParameter(ctx context.Context, ref string, value interface{}) error

	ListFaults(ctx context.Context, filter FaultFilter) (FaultsResult, error)
	FaultDetail(ctx context.Context, code string) (Fault, error)
	ClearFaults(ctx context.Context) error

	StartOperation(ctx context.Context, name string, params map[string]interface{}) (OperationResult, error)
	StopOperation(ctx context.Context, name string) (OperationResult, error)
	OperationResults(ctx context.Context, name string) (OperationResult, error)

	Actuate(ctx context.Context, output string, action string, value interface{}) (OutputResult, error)

	Reset(ctx context.Context, kind string) (ResetResult, error)

	// SubEntity resolves a single path segment to a child backend. Leaf
	// entities always return entity-not-found.
	SubEntity(ctx context.Context, childID string) (Backend, error)
}

// Federation resolves a possibly-nested "a/b/c" component id against a
// root map of entities (spec.md §4.8). It is re-entrant: resolving a
// nested entity may await further I/O on each SubEntity call.
type Federation struct {
	roots map[string]Backend
}

// NewFederation builds a federation layer over the process-root entity map
// (spec.md §3 ownership: "the process root exclusively owns a mapping
// component_id -> entity").
func NewFederation(roots map[string]Backend) *Federation {
	return &Federation{roots: roots}
}

// Resolve walks "a/b/c" one segment at a time via SplitEntityPrefix,
// descending into each child (spec.md §4.8). An unknown root or child
// yields entity-not-found.
func (f *Federation) Resolve(ctx context.Context, id string) (Backend, error) {
	head, rest := SplitEntityPrefix(id)
	root, ok := f.roots[head]
	if !ok {
		return nil, errors.EntityNotFound(id)
	}
	current := root
	for rest != "" {
		var seg string
		seg, rest = SplitEntityPrefix(rest)
		if seg == "" {
			continue
		}
		child, err := current.SubEntity(ctx, seg)
		if err != nil {
			return nil, errors.EntityNotFound(id)
		}
		current = child
	}
	return current, nil
}

// List returns every root-level entity's Info.
func (f *Federation) List() []Info {
	out := make([]Info, 0, len(f.roots))
	for _, b := range f.roots {
		out = append(out, b.Info())
	}
	return out
}

// PrefixedID builds "parent/id" when parent is set, or returns id unchanged
// (spec.md §4.8).
func PrefixedID(id string, parent *string) string {
	if parent == nil || *parent == "" {
		return id
	}
	return *parent + "/" + id
}

// StripEntityPrefix removes a leading "prefix/" from id, returning ok=false
// when id does not start with that prefix (spec.md §4.8).
func StripEntityPrefix(id, prefix string) (string, bool) {
	want := prefix + "/"
	if strings.HasPrefix(id, want) {
		return id[len(want):], true
	}
	return "", false
}

// SplitEntityPrefix splits "a/b/c" into ("a", "b/c") on the first '/' only
// (spec.md §4.8). If id has no '/', returns (id, "").
func SplitEntityPrefix(id string) (string, string) {
	idx := strings.IndexByte(id, '/')
	if idx < 0 {
		return id, ""
	}
	return id[:idx], id[idx+1:]
}
