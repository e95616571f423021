package conv

import "github.com/r3e-network/sovd-gateway/infrastructure/errors"

// DynamicMin and DynamicMax bound the target range a dynamic DID may
// occupy (spec.md §3, §4.5): 0xF200..=0xF3FF.
const (
	DynamicMin uint16 = 0xF200
	DynamicMax uint16 = 0xF3FF
)

// DynamicSource is one `(source_did, position_1_based, byte_count)` triple
// composing a dynamic DID's payload (spec.md §3, §4.5).
type DynamicSource struct {
	SourceDID  uint16
	Position1  int // 1-based byte position within the source DID's payload
	ByteCount  int
}

// ValidateDynamicTarget rejects a target outside the dynamic-DID range
// (spec.md §8 boundary behavior).
func ValidateDynamicTarget(target uint16) error {
	if target < DynamicMin || target > DynamicMax {
		return errors.InvalidRequest("dynamic DID target must be in 0xF200..=0xF3FF")
	}
	return nil
}

// DefinitionForDynamic builds a byte-concatenation Definition for a
// composed dynamic DID: a `bytes`-typed scalar whose width is the sum of
// its sources' byte counts. The local codec store entry this produces
// lets a subsequent read decode the composed payload without re-deriving
// it from the source definitions (spec.md §4.5).
func DefinitionForDynamic(target uint16, name string, sources []DynamicSource) (Definition, error) {
	if err := ValidateDynamicTarget(target); err != nil {
		return Definition{}, err
	}
	if len(sources) == 0 {
		return Definition{}, errors.InvalidRequest("dynamic DID requires at least one source")
	}
	total := 0
	for _, s := range sources {
		if s.ByteCount <= 0 || s.Position1 < 1 {
			return Definition{}, errors.InvalidRequest("dynamic DID source must have position >= 1 and byte_count > 0")
		}
		total += s.ByteCount
	}
	return Definition{
		DID:          target,
		Name:         name,
		Type:         TypeBytes,
		StringLength: total,
	}, nil
}

// ComposeDynamicPayload builds the on-wire payload for a dynamic DID from
// its sources' already-read raw byte buffers.
func ComposeDynamicPayload(sources []DynamicSource, sourceBuffers map[uint16][]byte) ([]byte, error) {
	out := make([]byte, 0)
	for _, s := range sources {
		buf, ok := sourceBuffers[s.SourceDID]
		if !ok {
			return nil, errors.Internal("dynamic DID source buffer missing", nil)
		}
		start := s.Position1 - 1
		end := start + s.ByteCount
		if start < 0 || end > len(buf) {
			return nil, errors.Protocol("dynamic DID source position/length out of bounds")
		}
		out = append(out, buf[start:end]...)
	}
	return out, nil
}
