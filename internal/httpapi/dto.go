package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/sovd-gateway/internal/conv"
	"github.com/r3e-network/sovd-gateway/internal/entity"
	"github.com/r3e-network/sovd-gateway/internal/flash"
	"github.com/r3e-network/sovd-gateway/internal/session"
	"github.com/r3e-network/sovd-gateway/internal/subscription"
)

// capabilitiesDTO mirrors entity.Capabilities with wire-friendly field
// names (spec.md §3 capability set).
type capabilitiesDTO struct {
	ReadData       bool `json:"read_data"`
	WriteData      bool `json:"write_data"`
	Faults         bool `json:"faults"`
	ClearFaults    bool `json:"clear_faults"`
	Logs           bool `json:"logs"`
	Operations     bool `json:"operations"`
	SoftwareUpdate bool `json:"software_update"`
	IOControl      bool `json:"io_control"`
	Sessions       bool `json:"sessions"`
	Security       bool `json:"security"`
	SubEntities    bool `json:"sub_entities"`
	Subscriptions  bool `json:"subscriptions"`
}

func capsDTO(c entity.Capabilities) capabilitiesDTO {
	return capabilitiesDTO{
		ReadData: c.ReadData, WriteData: c.WriteData, Faults: c.Faults,
		ClearFaults: c.ClearFaults, Logs: c.Logs, Operations: c.Operations,
		SoftwareUpdate: c.SoftwareUpdate, IOControl: c.IOControl,
		Sessions: c.Sessions, Security: c.Security,
		SubEntities: c.SubEntities, Subscriptions: c.Subscriptions,
	}
}

// infoDTO mirrors entity.Info for the wire (spec.md §3).
type infoDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Description  string          `json:"description"`
	Status       string          `json:"status"`
	Capabilities capabilitiesDTO `json:"capabilities"`
}

func infoToDTO(info entity.Info) infoDTO {
	return infoDTO{
		ID: info.ID, Name: info.Name, Kind: info.Kind,
		Description: info.Description, Status: info.Status,
		Capabilities: capsDTO(info.Capabilities),
	}
}

// resolve looks up the {id} path variable against the federation layer.
func (s *Server) resolve(r *http.Request) (entity.Backend, string, error) {
	vars := mux.Vars(r)
	id := vars["id"]
	backend, err := s.Federation.Resolve(r.Context(), id)
	if err != nil {
		return nil, id, err
	}
	return backend, id, nil
}

// The entity.Backend contract deliberately excludes session/security/
// link/flash/subscription/dynamic-DID operations (spec.md §4.6-§4.8: a
// composite or proxy entity has no state machine of its own). The HTTP
// layer reaches them by type-asserting against the concrete accessor
// methods *backend.UDSBackend exposes, falling back to not-supported for
// any backend that doesn't implement them.

type sessionOwner interface {
	Session() *session.Machine
}

type securityOwner interface {
	RequestSeed(ctx context.Context, level int) ([]byte, error)
	Unlock(ctx context.Context) error
}

type flashOwner interface {
	Flash() *flash.Machine
}

type subscriptionOwner interface {
	Subscriptions() *subscription.Manager
}

type dynamicDIDOwner interface {
	InstallDynamicDID(ctx context.Context, target uint16, sources []conv.DynamicSource) error
	ClearDynamicDID(ctx context.Context, target uint16) error
	Store() *conv.Store
}

type operationLister interface {
	OperationNames() []string
}
