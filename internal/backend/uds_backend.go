// Package backend implements the two concrete diagnostic-entity backends:
// a UDS backend that drives a single ECU over the service layer, and a
// proxy backend that forwards every call to a remote SOVD entity over
// HTTP (spec.md §4.6-§4.7).
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/logging"
	"github.com/r3e-network/sovd-gateway/internal/conv"
	"github.com/r3e-network/sovd-gateway/internal/entity"
	"github.com/r3e-network/sovd-gateway/internal/flash"
	"github.com/r3e-network/sovd-gateway/internal/session"
	"github.com/r3e-network/sovd-gateway/internal/subscription"
	"github.com/r3e-network/sovd-gateway/internal/uds"
)

// DTCSeverityRule maps a DTC's leading byte range to a severity label. The
// default table treats powertrain codes (0x00-0x3F high nibble "P") as
// more severe than body/chassis codes; deployments may override it
// (spec.md §4.6 "severity inferred from DTC ranges (configurable)").
type DTCSeverityRule struct {
	MinByte  byte
	MaxByte  byte
	Severity string
}

// DefaultDTCSeverityRules is the built-in classification used when a
// catalog does not supply its own.
func DefaultDTCSeverityRules() []DTCSeverityRule {
	return []DTCSeverityRule{
		{MinByte: 0x00, MaxByte: 0x3F, Severity: "critical"},
		{MinByte: 0x40, MaxByte: 0x7F, Severity: "error"},
		{MinByte: 0x80, MaxByte: 0xBF, Severity: "warning"},
		{MinByte: 0xC0, MaxByte: 0xFF, Severity: "info"},
	}
}

func severityFor(rules []DTCSeverityRule, high byte) string {
	for _, r := range rules {
		if high >= r.MinByte && high <= r.MaxByte {
			return r.Severity
		}
	}
	return "info"
}

// Operation declares one routine-control-backed named operation
// (spec.md §4.6).
type Operation struct {
	RoutineID uint16
}

// Output declares one I/O-control-backed named output (spec.md §4.6).
type Output struct {
	DID uint16
}

// UDSBackend drives a single leaf ECU entity over the UDS service layer
// (spec.md §4.6): session/security preconditions, DID-based data access,
// DTC listing, routine control, I/O control, reset, and flash delegation.
type UDSBackend struct {
	info entity.Info
	log  *logging.Logger

	client  *uds.Client
	session *session.Machine
	store   *conv.Store
	subs    *subscription.Manager
	flash   *flash.Machine

	severityRules []DTCSeverityRule

	mu         sync.RWMutex
	operations map[string]Operation
	outputs    map[string]Output

	// requiredSecurity maps a reference name to the security level that
	// gates data/fault/operation/output access (0 means no precondition),
	// per the entity's configured preconditions (spec.md §4.6).
	requiredSecurity map[string]int

	// secret/lastSeed support the HTTP security-access workflow: the
	// gateway holds the ECU's shared secret (config-driven, spec.md §1
	// Non-goals: "pluggable hook"), caches the seed from the most recent
	// RequestSeed call, and computes the key internally on Unlock so the
	// HTTP caller never handles key material directly.
	secret   []byte
	lastSeed []byte

	vin        string
	partNumber string
}

// Config bundles the fixed dependencies a UDSBackend needs at construction
// (spec.md §3 ownership: "a backend owns the machines and client needed
// to drive its one ECU").
type Config struct {
	ID, Name, Description string
	Capabilities           entity.Capabilities
	Client                 *uds.Client
	Session                *session.Machine
	Store                  *conv.Store
	Subscriptions          *subscription.Manager
	Flash                  *flash.Machine
	Log                    *logging.Logger
	SeverityRules          []DTCSeverityRule

	// VIN/PartNumber feed the SOVD /discovery route (spec.md §9
	// supplemented feature); both may be empty when the ECU carries no
	// discovery metadata.
	VIN        string
	PartNumber string
}

// NewUDSBackend builds a UDS-backed leaf entity.
func NewUDSBackend(cfg Config) *UDSBackend {
	rules := cfg.SeverityRules
	if rules == nil {
		rules = DefaultDTCSeverityRules()
	}
	return &UDSBackend{
		info: entity.Info{
			ID: cfg.ID, Name: cfg.Name, Kind: "ecu", Description: cfg.Description,
			Status: "running", Capabilities: cfg.Capabilities,
		},
		log:              cfg.Log,
		client:           cfg.Client,
		session:          cfg.Session,
		store:            cfg.Store,
		subs:             cfg.Subscriptions,
		flash:            cfg.Flash,
		severityRules:    rules,
		operations:       make(map[string]Operation),
		outputs:          make(map[string]Output),
		requiredSecurity: make(map[string]int),
		vin:              cfg.VIN,
		partNumber:       cfg.PartNumber,
	}
}

// DiscoveryInfo satisfies httpapi.Discoverable for the /discovery route
// (spec.md §9).
func (b *UDSBackend) DiscoveryInfo() (vin, partNumber, entityID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vin, b.partNumber, b.info.ID
}

// RegisterOperation names a routine-control-backed operation.
func (b *UDSBackend) RegisterOperation(name string, op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operations[name] = op
}

// RegisterOutput names an I/O-control-backed output.
func (b *UDSBackend) RegisterOutput(name string, out Output) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs[name] = out
}

// RequireSecurityFor declares that reference ref (a parameter, operation,
// or output name) needs the given unlocked security level before any I/O
// is attempted (spec.md §4.6 precondition enforcement).
func (b *UDSBackend) RequireSecurityFor(ref string, level int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requiredSecurity[ref] = level
}

func (b *UDSBackend) securityLevelFor(ref string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.requiredSecurity[ref]
}

func (b *UDSBackend) Info() entity.Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info
}

func (b *UDSBackend) SubEntity(ctx context.Context, childID string) (entity.Backend, error) {
	return nil, errors.EntityNotFound(childID)
}

// checkPrecondition enforces the capability-guard invariant before any
// I/O (spec.md §8 "Backend capability guard"): capability check first,
// then security level.
func (b *UDSBackend) checkPrecondition(enabled bool, what, ref string) error {
	if !enabled {
		return errors.NotSupported(what)
	}
	if level := b.securityLevelFor(ref); level > 0 {
		if err := b.session.RequireSecurity(level); err != nil {
			return err
		}
	}
	return nil
}

// ReadParameter reads one DID via 0x22 and decodes it through the
// conversion store (spec.md §4.3, §4.6).
func (b *UDSBackend) ReadParameter(ctx context.Context, ref string) (entity.Parameter, error) {
	if err := b.checkPrecondition(b.info.Capabilities.ReadData, "read_data", ref); err != nil {
		return entity.Parameter{}, err
	}
	def, err := b.store.Resolve(ref)
	if err != nil {
		return entity.Parameter{}, err
	}
	raw, err := b.readDID(ctx, def.DID)
	if err != nil {
		return entity.Parameter{}, err
	}
	value, err := conv.Decode(def, raw)
	if err != nil {
		return entity.Parameter{}, err
	}
	return entity.Parameter{
		ID: ref, Value: value, Raw: fmt.Sprintf("%X", raw),
		DID: conv.FormatDID(def.DID), Length: len(raw), Unit: def.Unit,
		Timestamp: time.Now(),
	}, nil
}

// readDID issues 0x22 for a single DID and strips the 3-byte
// SID+DID-echo header from the positive reply.
func (b *UDSBackend) readDID(ctx context.Context, did uint16) ([]byte, error) {
	data := []byte{byte(did >> 8), byte(did)}
	req := uds.Request(uds.ReadDataByID, nil, data)
	resp, err := b.client.Do(ctx, uds.ReadDataByID, req)
	if err != nil {
		return nil, err
	}
	if resp.Kind != uds.KindPositive || len(resp.Data) < 2 {
		return nil, errors.Protocol("read data by id: malformed response")
	}
	return resp.Data[2:], nil
}

// ReadBatch reads every ref independently; a failure on one does not
// abort the batch (spec.md §4.6).
func (b *UDSBackend) ReadBatch(ctx context.Context, refs []string) ([]entity.Parameter, []error) {
	params := make([]entity.Parameter, len(refs))
	errs := make([]error, len(refs))
	for i, ref := range refs {
		p, err := b.ReadParameter(ctx, ref)
		params[i] = p
		errs[i] = err
	}
	return params, errs
}

// WriteParameter encodes value and writes it via 0x2E (spec.md §4.6).
func (b *UDSBackend) WriteParameter(ctx context.Context, ref string, value interface{}) error {
	if err := b.checkPrecondition(b.info.Capabilities.WriteData, "write_data", ref); err != nil {
		return err
	}
	def, err := b.store.Resolve(ref)
	if err != nil {
		return err
	}
	raw, err := conv.Encode(def, value)
	if err != nil {
		return err
	}
	data := make([]byte, 0, 2+len(raw))
	data = append(data, byte(def.DID>>8), byte(def.DID))
	data = append(data, raw...)
	req := uds.Request(uds.WriteDataByID, nil, data)
	resp, err := b.client.Do(ctx, uds.WriteDataByID, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("write data by id: unexpected reply shape")
	}
	return nil
}

// ListFaults issues 0x19 0x02 0xFF and parses the DTC table (spec.md §4.6,
// byte layout grounded in scenario 3: `[SID, subfn, availability,
// (dtc_hi, dtc_mid, dtc_lo, status)...]`).
func (b *UDSBackend) ListFaults(ctx context.Context, filter entity.FaultFilter) (entity.FaultsResult, error) {
	if err := b.checkPrecondition(b.info.Capabilities.Faults, "faults", "faults"); err != nil {
		return entity.FaultsResult{}, err
	}
	sub := uds.DTCReportByStatusMask
	req := uds.Request(uds.ReadDTCInfo, &sub, []byte{0xFF})
	resp, err := b.client.Do(ctx, uds.ReadDTCInfo, req)
	if err != nil {
		return entity.FaultsResult{}, err
	}
	if resp.Kind != uds.KindPositive || len(resp.Data) < 2 {
		return entity.FaultsResult{}, errors.Protocol("read DTC info: malformed response")
	}
	availability := resp.Data[1]
	records := resp.Data[2:]
	if len(records)%4 != 0 {
		return entity.FaultsResult{}, errors.Protocol("read DTC info: malformed DTC record table")
	}

	faults := make([]entity.Fault, 0, len(records)/4)
	now := time.Now()
	for i := 0; i+4 <= len(records); i += 4 {
		hi, mid, lo, status := records[i], records[i+1], records[i+2], records[i+3]
		code := fmt.Sprintf("%02X%02X%02X", hi, mid, lo)
		active := status&0x01 != 0
		severity := severityFor(b.severityRules, hi)
		if filter.ActiveOnly && !active {
			continue
		}
		if filter.Severity != "" && filter.Severity != severity {
			continue
		}
		faults = append(faults, entity.Fault{
			Code: code, Severity: severity, Message: "DTC " + code,
			FirstOccurrence: now, LastOccurrence: now, OccurrenceCount: 1,
			Active: active,
			Status: map[string]interface{}{"byte": status},
		})
		if filter.Limit > 0 && len(faults) >= filter.Limit {
			break
		}
	}
	return entity.FaultsResult{Faults: faults, AvailabilityMask: availability}, nil
}

// FaultDetail issues 0x19 0x04 (snapshot) for the given DTC code.
func (b *UDSBackend) FaultDetail(ctx context.Context, code string) (entity.Fault, error) {
	if err := b.checkPrecondition(b.info.Capabilities.Faults, "faults", code); err != nil {
		return entity.Fault{}, err
	}
	var dtc [3]byte
	if _, err := fmt.Sscanf(code, "%02X%02X%02X", &dtc[0], &dtc[1], &dtc[2]); err != nil {
		return entity.Fault{}, errors.InvalidRequest("fault code must be a 3-byte hex DTC")
	}
	sub := uds.DTCReportSnapshotByNumber
	req := uds.Request(uds.ReadDTCInfo, &sub, []byte{dtc[0], dtc[1], dtc[2], 0xFF})
	resp, err := b.client.Do(ctx, uds.ReadDTCInfo, req)
	if err != nil {
		return entity.Fault{}, err
	}
	if resp.Kind != uds.KindPositive {
		return entity.Fault{}, errors.Protocol("read DTC info: malformed snapshot response")
	}
	return entity.Fault{
		Code: code, Severity: severityFor(b.severityRules, dtc[0]),
		Message: "DTC " + code, Active: true, OccurrenceCount: 1,
		FirstOccurrence: time.Now(), LastOccurrence: time.Now(),
		Status: map[string]interface{}{"snapshot": fmt.Sprintf("%X", resp.Data)},
	}, nil
}

// ClearFaults issues 0x14 FF FF FF (spec.md §4.6).
func (b *UDSBackend) ClearFaults(ctx context.Context) error {
	if err := b.checkPrecondition(b.info.Capabilities.ClearFaults, "clear_faults", "faults"); err != nil {
		return err
	}
	req := uds.Request(uds.ClearDiagnosticInfo, nil, []byte{0xFF, 0xFF, 0xFF})
	resp, err := b.client.Do(ctx, uds.ClearDiagnosticInfo, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("clear diagnostic info: unexpected reply shape")
	}
	return nil
}

func (b *UDSBackend) lookupOperation(name string) (Operation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	op, ok := b.operations[name]
	if !ok {
		return Operation{}, errors.OperationNotFound(name)
	}
	return op, nil
}

func (b *UDSBackend) routineControl(ctx context.Context, name string, sub byte, params map[string]interface{}) (entity.OperationResult, error) {
	op, err := b.lookupOperation(name)
	if err != nil {
		return entity.OperationResult{}, err
	}
	data := []byte{byte(op.RoutineID >> 8), byte(op.RoutineID)}
	if v, ok := params["option_record"].([]byte); ok {
		data = append(data, v...)
	}
	subCopy := sub
	req := uds.Request(uds.RoutineControl, &subCopy, data)
	resp, err := b.client.Do(ctx, uds.RoutineControl, req)
	if err != nil {
		return entity.OperationResult{}, err
	}
	if resp.Kind != uds.KindPositive {
		return entity.OperationResult{}, errors.Protocol("routine control: unexpected reply shape")
	}
	result := entity.OperationResult{Status: "completed"}
	if len(resp.Data) > 3 {
		result.Data = map[string]interface{}{"raw": fmt.Sprintf("%X", resp.Data[3:])}
	}
	return result, nil
}

// RoutineCommitFunc builds a flash.CommitRoutine that issues routine
// control start (sub-function 0x01) for routineID over client, for
// wiring an ECU's declared commit/rollback routine ids (spec.md §4.9,
// §6.3 "flash_routines") into flash.New without needing a constructed
// UDSBackend yet.
func RoutineCommitFunc(client *uds.Client, routineID uint16) flash.CommitRoutine {
	return func(ctx context.Context) error {
		data := []byte{byte(routineID >> 8), byte(routineID)}
		sub := uds.RoutineStart
		req := uds.Request(uds.RoutineControl, &sub, data)
		resp, err := client.Do(ctx, uds.RoutineControl, req)
		if err != nil {
			return err
		}
		if resp.Kind != uds.KindPositive {
			return errors.Protocol("routine control: unexpected reply shape")
		}
		return nil
	}
}

// StartOperation issues routine control start (sub-function 0x01).
func (b *UDSBackend) StartOperation(ctx context.Context, name string, params map[string]interface{}) (entity.OperationResult, error) {
	if err := b.checkPrecondition(b.info.Capabilities.Operations, "operations", name); err != nil {
		return entity.OperationResult{}, err
	}
	return b.routineControl(ctx, name, uds.RoutineStart, params)
}

// StopOperation issues routine control stop (sub-function 0x02).
func (b *UDSBackend) StopOperation(ctx context.Context, name string) (entity.OperationResult, error) {
	if err := b.checkPrecondition(b.info.Capabilities.Operations, "operations", name); err != nil {
		return entity.OperationResult{}, err
	}
	return b.routineControl(ctx, name, uds.RoutineStop, nil)
}

// OperationResults issues routine control request-results (sub-function 0x03).
func (b *UDSBackend) OperationResults(ctx context.Context, name string) (entity.OperationResult, error) {
	if err := b.checkPrecondition(b.info.Capabilities.Operations, "operations", name); err != nil {
		return entity.OperationResult{}, err
	}
	return b.routineControl(ctx, name, uds.RoutineRequestResults, nil)
}

// Actuate encodes action as the 0x2F option byte and issues I/O control
// (spec.md §4.6).
func (b *UDSBackend) Actuate(ctx context.Context, output, action string, value interface{}) (entity.OutputResult, error) {
	if err := b.checkPrecondition(b.info.Capabilities.IOControl, "io_control", output); err != nil {
		return entity.OutputResult{}, err
	}
	b.mu.RLock()
	out, ok := b.outputs[output]
	b.mu.RUnlock()
	if !ok {
		return entity.OutputResult{}, errors.OutputNotFound(output)
	}

	option, err := ioControlOption(action)
	if err != nil {
		return entity.OutputResult{}, err
	}
	data := []byte{byte(out.DID >> 8), byte(out.DID), option}
	if option == uds.IOShortTermAdjust {
		def, ok := b.store.Lookup(out.DID)
		if !ok {
			return entity.OutputResult{}, errors.OutputNotFound(output)
		}
		raw, err := conv.Encode(def, value)
		if err != nil {
			return entity.OutputResult{}, err
		}
		data = append(data, raw...)
	}

	req := uds.Request(uds.IOControlByID, nil, data)
	resp, err := b.client.Do(ctx, uds.IOControlByID, req)
	if err != nil {
		return entity.OutputResult{}, err
	}
	if resp.Kind != uds.KindPositive || len(resp.Data) < 3 {
		return entity.OutputResult{}, errors.Protocol("io control: malformed response")
	}
	raw := resp.Data[3:]
	result := entity.OutputResult{Raw: fmt.Sprintf("%X", raw)}
	if def, ok := b.store.Lookup(out.DID); ok && len(raw) > 0 {
		if v, err := conv.Decode(def, raw); err == nil {
			result.Value = v
		}
	}
	return result, nil
}

func ioControlOption(action string) (byte, error) {
	switch action {
	case "return_to_ecu":
		return uds.IOReturnToECU, nil
	case "reset_to_default":
		return uds.IOResetToDefault, nil
	case "freeze":
		return uds.IOFreeze, nil
	case "short_term_adjust":
		return uds.IOShortTermAdjust, nil
	default:
		return 0, errors.InvalidRequest("unknown io control action " + action)
	}
}

// Reset issues 0x11 with the requested reset kind (spec.md §4.6).
func (b *UDSBackend) Reset(ctx context.Context, kind string) (entity.ResetResult, error) {
	if err := b.checkPrecondition(b.info.Capabilities.Sessions, "sessions", "reset"); err != nil {
		return entity.ResetResult{}, err
	}
	var sub byte
	switch kind {
	case "hard":
		sub = uds.ResetHard
	case "key_off_on":
		sub = uds.ResetKeyOffOn
	case "soft":
		sub = uds.ResetSoft
	default:
		return entity.ResetResult{}, errors.InvalidRequest("unknown reset kind " + kind)
	}
	req := uds.Request(uds.ECUReset, &sub, nil)
	resp, err := b.client.Do(ctx, uds.ECUReset, req)
	if err != nil {
		return entity.ResetResult{}, err
	}
	if resp.Kind != uds.KindPositive {
		return entity.ResetResult{}, errors.Protocol("ecu reset: unexpected reply shape")
	}
	b.session.NotifyReset()
	result := entity.ResetResult{}
	if len(resp.Data) > 1 {
		pd := resp.Data[1]
		result.PowerDownTime = &pd
	}
	return result, nil
}

// InstallDynamicDID issues 0x2C define-by-identifier and registers the
// composed entry in the conversion store (spec.md §4.5), used as a
// subscription.Manager's DynamicDIDInstaller hook.
func (b *UDSBackend) InstallDynamicDID(ctx context.Context, target uint16, sources []conv.DynamicSource) error {
	def, err := conv.DefinitionForDynamic(target, conv.FormatDID(target), sources)
	if err != nil {
		return err
	}
	data := []byte{byte(target >> 8), byte(target)}
	for _, s := range sources {
		data = append(data, byte(s.SourceDID>>8), byte(s.SourceDID), byte(s.Position1), byte(s.ByteCount))
	}
	sub := uds.DDIDDefineByIdentifier
	req := uds.Request(uds.DynamicallyDefineDataID, &sub, data)
	resp, err := b.client.Do(ctx, uds.DynamicallyDefineDataID, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("dynamically define data id: unexpected reply shape")
	}
	return b.store.Register(def)
}

// ClearDynamicDID releases a previously defined dynamic DID, used as a
// subscription.Manager's DynamicDIDClearer hook.
func (b *UDSBackend) ClearDynamicDID(ctx context.Context, target uint16) error {
	data := []byte{byte(target >> 8), byte(target)}
	sub := uds.DDIDClear
	req := uds.Request(uds.DynamicallyDefineDataID, &sub, data)
	resp, err := b.client.Do(ctx, uds.DynamicallyDefineDataID, req)
	if err != nil {
		return err
	}
	if resp.Kind != uds.KindPositive {
		return errors.Protocol("dynamically define data id: clear failed")
	}
	b.store.Unregister(target)
	return nil
}

// ReadValue is the subscription.Manager Reader hook: read and decode a
// single parameter's value.
func (b *UDSBackend) ReadValue(ctx context.Context, param string) (interface{}, error) {
	p, err := b.ReadParameter(ctx, param)
	if err != nil {
		return nil, err
	}
	return p.Value, nil
}

// Flash exposes the backend's flash state machine to the HTTP layer.
func (b *UDSBackend) Flash() *flash.Machine { return b.flash }

// Session exposes the backend's session/security/link machine to the
// HTTP layer.
func (b *UDSBackend) Session() *session.Machine { return b.session }

// Subscriptions exposes the backend's subscription manager to the HTTP
// layer.
func (b *UDSBackend) Subscriptions() *subscription.Manager { return b.subs }

// Store exposes the backend's conversion store to the HTTP layer (DID
// catalog listing, dynamic DID registration).
func (b *UDSBackend) Store() *conv.Store { return b.store }

// OperationNames lists the routine-control operations registered on this
// backend, for the HTTP "list operations" surface.
func (b *UDSBackend) OperationNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.operations))
	for name := range b.operations {
		names = append(names, name)
	}
	return names
}

// SetSecret stores the ECU's seed/key secret, read by the process
// entrypoint from its configured environment variable (spec.md §6.3).
func (b *UDSBackend) SetSecret(secret []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secret = secret
}

// SetSubscriptions binds this backend's subscription manager after
// construction. The manager's Reader/DynamicDIDInstaller/Clearer hooks
// are themselves this backend's methods, so the process entrypoint must
// build the backend first and wire the manager in afterwards (spec.md §3
// ownership: "a UDS backend exclusively owns its... subscription
// manager").
func (b *UDSBackend) SetSubscriptions(subs *subscription.Manager) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = subs
}

// RequestSeed requests a security-access seed for level and caches it so
// a subsequent Unlock can answer without the HTTP caller ever handling
// raw key material.
func (b *UDSBackend) RequestSeed(ctx context.Context, level int) ([]byte, error) {
	seed, err := b.session.RequestSeed(ctx, level)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.lastSeed = seed
	b.mu.Unlock()
	return seed, nil
}

// Unlock answers the most recently issued seed using the configured
// secret and signer, completing the security-access handshake.
func (b *UDSBackend) Unlock(ctx context.Context) error {
	b.mu.RLock()
	seed := b.lastSeed
	secret := b.secret
	b.mu.RUnlock()
	if seed == nil {
		return errors.Conflict("no outstanding seed to answer")
	}
	return b.session.SendKey(ctx, secret, seed)
}

var _ entity.Backend = (*UDSBackend)(nil)
