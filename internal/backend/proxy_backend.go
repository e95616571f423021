package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
	"github.com/r3e-network/sovd-gateway/internal/entity"
)

// proxyDefaults mirrors the outbound defaults used by the remote
// diagnostic-entity client, sized for JSON SOVD responses rather than
// raw firmware uploads.
func proxyDefaults() httputil.ClientDefaults {
	d := httputil.DefaultClientDefaults()
	d.Timeout = 10 * time.Second
	d.MaxBodyBytes = 4 << 20
	return d
}

// ProxyConfig configures a ProxyBackend (spec.md §4.7).
type ProxyConfig struct {
	ID, Name, Description string
	BaseURL                string
	CallerID               string
	HTTPClient             *http.Client
	Timeout                time.Duration
	MaxBodyBytes           int64
}

// ProxyBackend forwards every Backend call to a remote SOVD entity over
// HTTP/JSON (spec.md §4.7). The upstream's advertised capabilities are
// authoritative: this backend never overrides them locally.
type ProxyBackend struct {
	id           string
	name         string
	description  string
	baseURL      string
	callerID     string
	client       *http.Client
	maxBodyBytes int64

	info entity.Info
}

// NewProxyBackend builds an HTTP-forwarding backend, fetching the
// upstream's capability set eagerly so Info() never blocks a caller on
// network I/O.
func NewProxyBackend(ctx context.Context, cfg ProxyConfig) (*ProxyBackend, error) {
	client, baseURL, err := httputil.NewClientWithBaseURL(httputil.ClientConfig{
		BaseURL:      cfg.BaseURL,
		CallerID:     cfg.CallerID,
		Timeout:      cfg.Timeout,
		HTTPClient:   cfg.HTTPClient,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, proxyDefaults())
	if err != nil {
		return nil, errors.Internal("proxy backend: invalid base URL", err)
	}
	maxBody := httputil.ResolveMaxBodyBytes(cfg.MaxBodyBytes, proxyDefaults().MaxBodyBytes)

	p := &ProxyBackend{
		id: cfg.ID, name: cfg.Name, description: cfg.Description,
		baseURL: baseURL, callerID: httputil.ResolveCallerID(cfg.CallerID),
		client: client, maxBodyBytes: maxBody,
	}

	caps, err := p.fetchCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	p.info = entity.Info{
		ID: cfg.ID, Name: cfg.Name, Kind: "proxy", Description: cfg.Description,
		Status: "running", Capabilities: caps,
	}
	return p, nil
}

// fetchCapabilities reads the remote entity's own component descriptor
// and adopts its capability flags unchanged (spec.md §4.7 "upstream is
// authoritative").
func (p *ProxyBackend) fetchCapabilities(ctx context.Context) (entity.Capabilities, error) {
	body, status, err := p.do(ctx, http.MethodGet, "/components/"+p.id, nil)
	if err != nil {
		return entity.Capabilities{}, err
	}
	if status != http.StatusOK {
		return entity.Capabilities{}, p.errorFromBody(status, body)
	}
	flags := gjson.GetBytes(body, "capabilities")
	return entity.Capabilities{
		ReadData:       flags.Get("read_data").Bool(),
		WriteData:      flags.Get("write_data").Bool(),
		Faults:         flags.Get("faults").Bool(),
		ClearFaults:    flags.Get("clear_faults").Bool(),
		Logs:           flags.Get("logs").Bool(),
		Operations:     flags.Get("operations").Bool(),
		SoftwareUpdate: flags.Get("software_update").Bool(),
		IOControl:      flags.Get("io_control").Bool(),
		Sessions:       flags.Get("sessions").Bool(),
		Security:       flags.Get("security").Bool(),
		SubEntities:    flags.Get("sub_entities").Bool(),
		Subscriptions:  flags.Get("subscriptions").Bool(),
	}, nil
}

func (p *ProxyBackend) Info() entity.Info { return p.info }

// do issues one upstream HTTP call, returning the raw response body and
// status code. Transport-level failures (unreachable, connection
// refused) surface as CategoryTransport per spec.md §4.7.
func (p *ProxyBackend) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, errors.Internal("proxy backend: encode request", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, errors.Internal("proxy backend: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.callerID != "" {
		req.Header.Set("X-SOVD-Caller", p.callerID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, errors.Transport(err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, p.maxBodyBytes)
	if err != nil {
		return nil, 0, errors.Internal("proxy backend: read response", err)
	}
	return body, resp.StatusCode, nil
}

// errorFromBody classifies a non-2xx upstream response, recognizing both
// SOVD error shapes (spec.md §6): the generic `{error, message}` envelope,
// and the ECU-specific `{error_code: "error-response", parameters: {NRC,
// SID}, ...}` shape whose NRC/SID bytes must survive byte-identical
// across this hop (spec.md §4.7, §8 scenario "Proxy NRC passthrough").
func (p *ProxyBackend) errorFromBody(status int, body []byte) error {
	message := gjson.GetBytes(body, "message").String()
	if gjson.GetBytes(body, "error_code").String() == "error-response" {
		nrc := byte(gjson.GetBytes(body, "parameters.NRC").Int())
		sid := byte(gjson.GetBytes(body, "parameters.SID").Int())
		return errors.ECUError(nrc, sid, message)
	}
	category := gjson.GetBytes(body, "error").String()
	if category == "" {
		return errors.Wrap(errors.CategoryProtocol,
			fmt.Sprintf("upstream returned unexpected status %d", status), nil)
	}
	return errors.New(errors.Category(category), message)
}

func (p *ProxyBackend) ReadParameter(ctx context.Context, ref string) (entity.Parameter, error) {
	if !p.info.Capabilities.ReadData {
		return entity.Parameter{}, errors.NotSupported("read_data")
	}
	body, status, err := p.do(ctx, http.MethodGet, "/components/"+p.id+"/data/"+ref, nil)
	if err != nil {
		return entity.Parameter{}, err
	}
	if status != http.StatusOK {
		return entity.Parameter{}, p.errorFromBody(status, body)
	}
	var param entity.Parameter
	if err := json.Unmarshal(body, &param); err != nil {
		return entity.Parameter{}, errors.Wrap(errors.CategoryProtocol, "malformed upstream parameter body", err)
	}
	return param, nil
}

func (p *ProxyBackend) ReadBatch(ctx context.Context, refs []string) ([]entity.Parameter, []error) {
	params := make([]entity.Parameter, len(refs))
	errs := make([]error, len(refs))
	for i, ref := range refs {
		params[i], errs[i] = p.ReadParameter(ctx, ref)
	}
	return params, errs
}

func (p *ProxyBackend) WriteParameter(ctx context.Context, ref string, value interface{}) error {
	if !p.info.Capabilities.WriteData {
		return errors.NotSupported("write_data")
	}
	body, status, err := p.do(ctx, http.MethodPut, "/components/"+p.id+"/data/"+ref,
		map[string]interface{}{"value": value})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return p.errorFromBody(status, body)
	}
	return nil
}

func (p *ProxyBackend) ListFaults(ctx context.Context, filter entity.FaultFilter) (entity.FaultsResult, error) {
	if !p.info.Capabilities.Faults {
		return entity.FaultsResult{}, errors.NotSupported("faults")
	}
	body, status, err := p.do(ctx, http.MethodGet, "/components/"+p.id+"/faults", nil)
	if err != nil {
		return entity.FaultsResult{}, err
	}
	if status != http.StatusOK {
		return entity.FaultsResult{}, p.errorFromBody(status, body)
	}
	var result entity.FaultsResult
	if err := json.Unmarshal(body, &result); err != nil {
		return entity.FaultsResult{}, errors.Wrap(errors.CategoryProtocol, "malformed upstream faults body", err)
	}
	return result, nil
}

func (p *ProxyBackend) FaultDetail(ctx context.Context, code string) (entity.Fault, error) {
	if !p.info.Capabilities.Faults {
		return entity.Fault{}, errors.NotSupported("faults")
	}
	body, status, err := p.do(ctx, http.MethodGet, "/components/"+p.id+"/faults/"+code, nil)
	if err != nil {
		return entity.Fault{}, err
	}
	if status != http.StatusOK {
		return entity.Fault{}, p.errorFromBody(status, body)
	}
	var f entity.Fault
	if err := json.Unmarshal(body, &f); err != nil {
		return entity.Fault{}, errors.Wrap(errors.CategoryProtocol, "malformed upstream fault body", err)
	}
	return f, nil
}

func (p *ProxyBackend) ClearFaults(ctx context.Context) error {
	if !p.info.Capabilities.ClearFaults {
		return errors.NotSupported("clear_faults")
	}
	body, status, err := p.do(ctx, http.MethodPost, "/components/"+p.id+"/faults/clear", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return p.errorFromBody(status, body)
	}
	return nil
}

func (p *ProxyBackend) StartOperation(ctx context.Context, name string, params map[string]interface{}) (entity.OperationResult, error) {
	if !p.info.Capabilities.Operations {
		return entity.OperationResult{}, errors.NotSupported("operations")
	}
	return p.operationCall(ctx, http.MethodPost, "/components/"+p.id+"/operations/"+name+"/start",
		map[string]interface{}{"params": params})
}

func (p *ProxyBackend) StopOperation(ctx context.Context, name string) (entity.OperationResult, error) {
	if !p.info.Capabilities.Operations {
		return entity.OperationResult{}, errors.NotSupported("operations")
	}
	return p.operationCall(ctx, http.MethodPost, "/components/"+p.id+"/operations/"+name+"/stop", nil)
}

func (p *ProxyBackend) OperationResults(ctx context.Context, name string) (entity.OperationResult, error) {
	if !p.info.Capabilities.Operations {
		return entity.OperationResult{}, errors.NotSupported("operations")
	}
	return p.operationCall(ctx, http.MethodGet, "/components/"+p.id+"/operations/"+name+"/results", nil)
}

func (p *ProxyBackend) operationCall(ctx context.Context, method, path string, payload interface{}) (entity.OperationResult, error) {
	body, status, err := p.do(ctx, method, path, payload)
	if err != nil {
		return entity.OperationResult{}, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return entity.OperationResult{}, p.errorFromBody(status, body)
	}
	var result entity.OperationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return entity.OperationResult{}, errors.Wrap(errors.CategoryProtocol, "malformed upstream operation body", err)
	}
	return result, nil
}

func (p *ProxyBackend) Actuate(ctx context.Context, output, action string, value interface{}) (entity.OutputResult, error) {
	if !p.info.Capabilities.IOControl {
		return entity.OutputResult{}, errors.NotSupported("io_control")
	}
	body, status, err := p.do(ctx, http.MethodPost, "/components/"+p.id+"/outputs/"+output+"/actuate",
		map[string]interface{}{"action": action, "value": value})
	if err != nil {
		return entity.OutputResult{}, err
	}
	if status != http.StatusOK {
		return entity.OutputResult{}, p.errorFromBody(status, body)
	}
	var result entity.OutputResult
	if err := json.Unmarshal(body, &result); err != nil {
		return entity.OutputResult{}, errors.Wrap(errors.CategoryProtocol, "malformed upstream output body", err)
	}
	return result, nil
}

func (p *ProxyBackend) Reset(ctx context.Context, kind string) (entity.ResetResult, error) {
	if !p.info.Capabilities.Sessions {
		return entity.ResetResult{}, errors.NotSupported("sessions")
	}
	body, status, err := p.do(ctx, http.MethodPost, "/components/"+p.id+"/reset",
		map[string]interface{}{"kind": kind})
	if err != nil {
		return entity.ResetResult{}, err
	}
	if status != http.StatusOK {
		return entity.ResetResult{}, p.errorFromBody(status, body)
	}
	var result entity.ResetResult
	if err := json.Unmarshal(body, &result); err != nil {
		return entity.ResetResult{}, errors.Wrap(errors.CategoryProtocol, "malformed upstream reset body", err)
	}
	return result, nil
}

// SubEntity resolves a nested component by requesting the upstream's own
// federation path; a proxy never owns children locally, it re-proxies
// one level deeper (spec.md §4.7, §4.8).
func (p *ProxyBackend) SubEntity(ctx context.Context, childID string) (entity.Backend, error) {
	if !p.info.Capabilities.SubEntities {
		return nil, errors.EntityNotFound(childID)
	}
	child, err := NewProxyBackend(ctx, ProxyConfig{
		ID: p.id + "/" + childID, Name: childID, BaseURL: p.baseURL,
		CallerID: p.callerID, HTTPClient: p.client, MaxBodyBytes: p.maxBodyBytes,
	})
	if err != nil {
		return nil, errors.EntityNotFound(childID)
	}
	return child, nil
}

var _ entity.Backend = (*ProxyBackend)(nil)
