package httpapi

import (
	"net/http"

	"github.com/r3e-network/sovd-gateway/infrastructure/httputil"
)

// discoveryEntryDTO is one matched entity in a discovery response
// (spec.md §9 supplemented feature: VIN/part-number lookup across the
// federation, distinct from the DoIP-level VIR/VAM broadcast in
// internal/transport).
type discoveryEntryDTO struct {
	EntityID   string `json:"id"`
	VIN        string `json:"vin,omitempty"`
	PartNumber string `json:"part_number,omitempty"`
}

// handleDiscovery matches registered Discoverable backends against the
// optional vin/part_number query filters, returning every match when
// neither filter is supplied.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	vin := httputil.QueryString(r, "vin", "")
	partNumber := httputil.QueryString(r, "part_number", "")

	results := make([]discoveryEntryDTO, 0, len(s.Discoverable))
	for _, d := range s.Discoverable {
		entryVIN, entryPart, id := d.DiscoveryInfo()
		if vin != "" && entryVIN != vin {
			continue
		}
		if partNumber != "" && entryPart != partNumber {
			continue
		}
		results = append(results, discoveryEntryDTO{EntityID: id, VIN: entryVIN, PartNumber: entryPart})
	}
	httputil.WriteJSON(w, http.StatusOK, results)
}
