// Package config loads the declarative YAML documents that describe a
// gateway deployment: DID catalogs and ECU/app entity configs
// (spec.md §6 "Persisted state layout"), using gopkg.in/yaml.v3 the same
// way the teacher's config package parses its own YAML/JSON documents.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
	"github.com/r3e-network/sovd-gateway/internal/conv"
)

// CatalogMeta is the top-level `meta` block of a DID catalog document.
type CatalogMeta struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// AxisSpec is one YAML axis entry for a matrix DID.
type AxisSpec struct {
	Name        string    `yaml:"name"`
	Unit        string    `yaml:"unit"`
	Breakpoints []float64 `yaml:"breakpoints"`
	Labels      []string  `yaml:"labels"`
}

// EnumEntrySpec is one YAML enum raw-value/label pair.
type EnumEntrySpec struct {
	Raw   int64  `yaml:"raw"`
	Label string `yaml:"label"`
}

// BitFieldSpec is one YAML named bit-range entry.
type BitFieldSpec struct {
	Name     string          `yaml:"name"`
	StartBit int             `yaml:"start_bit"`
	Width    int             `yaml:"width"`
	Enum     []EnumEntrySpec `yaml:"enum"`
}

// DIDSpec is one entry of the `dids` map, keyed by its hex DID string
// (spec.md §6: "dids: { <hex_did>: { id, name, type, scale, offset,
// unit, min, max, array?, labels?, map?, enum?, bits? } }").
type DIDSpec struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Type   string  `yaml:"type"`
	Order  string  `yaml:"order"`
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
	Unit   string  `yaml:"unit"`

	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Array    int      `yaml:"array"`
	Labels   []string `yaml:"labels"`
	Map      []AxisSpec `yaml:"map"`
	Enum     []EnumEntrySpec `yaml:"enum"`
	Bits     []BitFieldSpec  `yaml:"bits"`
	Length   int             `yaml:"length"` // string/bytes fixed length
}

// CatalogDocument is the full YAML shape of a DID catalog file.
type CatalogDocument struct {
	Meta CatalogMeta        `yaml:"meta"`
	Dids map[string]DIDSpec `yaml:"dids"`
}

func enumTable(entries []EnumEntrySpec) conv.EnumTable {
	if len(entries) == 0 {
		return nil
	}
	out := make(conv.EnumTable, len(entries))
	for i, e := range entries {
		out[i] = conv.EnumEntry{Raw: e.Raw, Label: e.Label}
	}
	return out
}

func bitFields(specs []BitFieldSpec) []conv.BitField {
	if len(specs) == 0 {
		return nil
	}
	out := make([]conv.BitField, len(specs))
	for i, b := range specs {
		out[i] = conv.BitField{
			Name: b.Name, StartBit: b.StartBit, Width: b.Width,
			Enum: enumTable(b.Enum),
		}
	}
	return out
}

func axes(specs []AxisSpec) []conv.Axis {
	if len(specs) == 0 {
		return nil
	}
	out := make([]conv.Axis, len(specs))
	for i, a := range specs {
		out[i] = conv.Axis{Name: a.Name, Unit: a.Unit, Breakpoints: a.Breakpoints, Labels: a.Labels}
	}
	return out
}

// toDefinition converts one YAML DID entry into a conv.Definition,
// resolving its shape from the array/map fields present.
func (spec DIDSpec) toDefinition(did uint16) (conv.Definition, error) {
	def := conv.Definition{
		DID: did, Name: spec.Name, Type: conv.DataType(spec.Type),
		Order: conv.BigEndian, Unit: spec.Unit,
		Scale: spec.Scale, Offset: spec.Offset,
		Enum: enumTable(spec.Enum), Bits: bitFields(spec.Bits),
		Labels: spec.Labels, StringLength: spec.Length,
	}
	if spec.Order == "little" {
		def.Order = conv.LittleEndian
	}
	if def.Scale == 0 {
		def.Scale = 1.0
	}
	switch {
	case len(spec.Map) == 2:
		rows := len(spec.Map[0].Breakpoints)
		cols := len(spec.Map[1].Breakpoints)
		def.Shape = conv.MatrixShape(rows, cols)
		def.Axes = axes(spec.Map)
	case spec.Array > 0:
		def.Shape = conv.ArrayShape(spec.Array)
	default:
		def.Shape = conv.ScalarShape()
	}
	if spec.Min != nil || spec.Max != nil {
		def.Bounds.Active = true
		if spec.Min != nil {
			def.Bounds.Min = *spec.Min
		}
		if spec.Max != nil {
			def.Bounds.Max = *spec.Max
		}
	}
	return def, nil
}

// LoadCatalog parses a DID catalog document and returns a populated
// conversion store (spec.md §4.3, §6).
func LoadCatalog(path string) (*conv.Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Internal("config: read DID catalog", err)
	}
	var doc CatalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Internal("config: parse DID catalog", err)
	}
	store := conv.NewStore(conv.Meta{Name: doc.Meta.Name, Version: doc.Meta.Version})
	for hex, spec := range doc.Dids {
		did, err := conv.ParseDID(hex)
		if err != nil {
			return nil, errors.Internal(fmt.Sprintf("config: DID catalog entry %q", hex), err)
		}
		if spec.Name == "" {
			spec.Name = spec.ID
		}
		def, err := spec.toDefinition(did)
		if err != nil {
			return nil, err
		}
		if err := store.Register(def); err != nil {
			return nil, errors.Internal(fmt.Sprintf("config: DID catalog entry %04X", did), err)
		}
	}
	return store, nil
}
