package conv

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// Meta carries the catalog-level metadata loaded alongside a set of
// definitions (spec.md §4.3 "DID store... metadata (name, version)").
type Meta struct {
	Name    string
	Version string
}

// Store is the authoritative mapping from DID to Definition, plus an index
// from semantic name to DID (spec.md §4.3). It is read-mostly and shared
// across backends; writes (Register) take a short exclusive lock
// (spec.md §5 "Conversion store").
type Store struct {
	mu sync.RWMutex

	meta Meta
	dids map[uint16]Definition
	byName map[string]uint16
}

// NewStore builds an empty store with the given catalog metadata.
func NewStore(meta Meta) *Store {
	return &Store{
		meta:   meta,
		dids:   make(map[uint16]Definition),
		byName: make(map[string]uint16),
	}
}

// Meta returns the catalog metadata.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Register adds or replaces a definition, hot-extending the store
// (spec.md §4.3 "hot-extensible via register calls").
func (s *Store) Register(def Definition) error {
	if _, err := def.ByteWidth(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dids[def.DID] = def
	if def.Name != "" {
		s.byName[def.Name] = def.DID
	}
	return nil
}

// Unregister removes a DID from the store, releasing its name index entry
// too. Used by dynamic-DID clear (spec.md §4.5).
func (s *Store) Unregister(did uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def, ok := s.dids[did]; ok {
		delete(s.byName, def.Name)
	}
	delete(s.dids, did)
}

// Lookup resolves a DID to its definition.
func (s *Store) Lookup(did uint16) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.dids[did]
	return def, ok
}

// LookupName resolves a semantic name to its definition.
func (s *Store) LookupName(name string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	did, ok := s.byName[name]
	if !ok {
		return Definition{}, false
	}
	def, ok := s.dids[did]
	return def, ok
}

// Resolve looks a parameter reference up by semantic name first, then as a
// DID string (spec.md §4.6 "by semantic name or DID string").
func (s *Store) Resolve(ref string) (Definition, error) {
	if def, ok := s.LookupName(ref); ok {
		return def, nil
	}
	if did, err := ParseDID(ref); err == nil {
		if def, ok := s.Lookup(did); ok {
			return def, nil
		}
	}
	return Definition{}, errors.ParameterNotFound(ref)
}

// All returns a snapshot copy of every registered definition, sorted by
// DID is not guaranteed; callers that need order must sort themselves.
func (s *Store) All() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.dids))
	for _, def := range s.dids {
		out = append(out, def)
	}
	return out
}

// ParseDID parses a DID string per spec.md §4.3: accepts "F405", "0xF405",
// "0XF405", is whitespace-tolerant and case-insensitive.
func ParseDID(s string) (uint16, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if trimmed == "" {
		return 0, fmt.Errorf("conv: empty DID string")
	}
	v, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("conv: invalid DID string %q: %w", s, err)
	}
	return uint16(v), nil
}

// FormatDID renders a DID as the canonical uppercase 4-hex-digit form used
// throughout the HTTP surface and scenario fixtures (e.g. "F405").
func FormatDID(did uint16) string {
	return fmt.Sprintf("%04X", did)
}
