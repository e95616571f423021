package conv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode converts a JSON-shaped value into raw bytes per the definition's
// type/shape/scale/enum/bitfield rules. Encode is the exact inverse of
// Decode (spec.md §4.3, §8 round-trip invariant).
func Encode(def Definition, value interface{}) ([]byte, error) {
	switch def.Type {
	case TypeString:
		return encodeString(def, value)
	case TypeBytes:
		return encodeHex(def, value)
	}

	if def.IsBitfield() {
		fields, ok := value.(map[string]interface{})
		if !ok {
			return nil, errBadShape(def.Name, "bitfield value must be an object")
		}
		return encodeBitfield(def, fields)
	}

	switch def.Shape.Kind {
	case ShapeScalar:
		return encodeScalar(def, value)
	case ShapeArray:
		return encodeArray(def, value)
	case ShapeMatrix:
		return encodeMatrix(def, value)
	default:
		return nil, fmt.Errorf("conv: %s: unknown shape kind %q", def.Name, def.Shape.Kind)
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// rawFromPhysical resolves the JSON input (either an enum label, an
// {"raw":...} object, or a plain physical number) to the raw numeric value
// to pack onto the wire.
func rawFromPhysical(def Definition, value interface{}) (float64, error) {
	if len(def.Enum) > 0 {
		switch v := value.(type) {
		case string:
			raw, ok := def.Enum.ReverseLookup(v)
			if !ok {
				return 0, errBadShape(def.Name, fmt.Sprintf("unknown enum label %q", v))
			}
			return float64(raw), nil
		case map[string]interface{}:
			if label, ok := v["label"].(string); ok {
				raw, ok := def.Enum.ReverseLookup(label)
				if !ok {
					return 0, errBadShape(def.Name, fmt.Sprintf("unknown enum label %q", label))
				}
				return float64(raw), nil
			}
			if raw, ok := toFloat64(v["raw"]); ok {
				return raw, nil
			}
			return 0, errBadShape(def.Name, "enum value object must have raw or label")
		default:
			raw, ok := toFloat64(value)
			if !ok {
				return 0, errBadShape(def.Name, "expected enum label, {raw,label} object, or raw number")
			}
			return raw, nil
		}
	}

	physical, ok := toFloat64(value)
	if !ok {
		return 0, errBadShape(def.Name, "expected a number")
	}

	if def.Bounds.Active && (physical < def.Bounds.Min || physical > def.Bounds.Max) {
		return 0, errOutOfRange(def.Name, physical, def.Bounds.Min, def.Bounds.Max)
	}

	scale := def.Scale
	if scale == 0 {
		scale = 1
	}
	raw := math.Round((physical - def.Offset) / scale)
	return raw, nil
}

func encodeScalar(def Definition, value interface{}) ([]byte, error) {
	raw, err := rawFromPhysical(def, value)
	if err != nil {
		return nil, err
	}
	return writeRawValue(def, raw)
}

func encodeArray(def Definition, value interface{}) ([]byte, error) {
	n := def.Shape.Len
	out := make([]byte, 0, elementWidth(def)*n)

	switch v := value.(type) {
	case map[string]interface{}:
		if !def.IsLabeledArray() {
			return nil, errBadShape(def.Name, "unlabeled array cannot be encoded from an object")
		}
		for _, label := range def.Labels {
			raw, err := rawFromPhysical(def, v[label])
			if err != nil {
				return nil, err
			}
			b, err := writeRawValue(def, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	case []interface{}:
		if len(v) != n {
			return nil, errBadShape(def.Name, fmt.Sprintf("expected %d elements, got %d", n, len(v)))
		}
		for _, elem := range v {
			raw, err := rawFromPhysical(def, elem)
			if err != nil {
				return nil, err
			}
			b, err := writeRawValue(def, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	default:
		return nil, errBadShape(def.Name, "array value must be a JSON array or labeled object")
	}
}

func encodeMatrix(def Definition, value interface{}) ([]byte, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, errBadShape(def.Name, "matrix value must be an object with a values field")
	}
	values, ok := m["values"].([]interface{})
	if !ok || len(values) != def.Shape.Rows {
		return nil, errBadShape(def.Name, fmt.Sprintf("matrix requires %d rows", def.Shape.Rows))
	}

	out := make([]byte, 0, elementWidth(def)*def.Shape.Rows*def.Shape.Cols)
	for _, rowVal := range values {
		row, ok := rowVal.([]interface{})
		if !ok || len(row) != def.Shape.Cols {
			return nil, errBadShape(def.Name, fmt.Sprintf("matrix row requires %d columns", def.Shape.Cols))
		}
		for _, elem := range row {
			raw, err := rawFromPhysical(def, elem)
			if err != nil {
				return nil, err
			}
			b, err := writeRawValue(def, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	return out, nil
}

func encodeBitfield(def Definition, fields map[string]interface{}) ([]byte, error) {
	var raw uint64
	for _, b := range def.Bits {
		v, present := fields[b.Name]
		if !present {
			continue
		}
		var bits uint64
		switch b.Width {
		case 1:
			if bv, ok := v.(bool); ok {
				if bv {
					bits = 1
				}
			} else if n, ok := toFloat64(v); ok && n != 0 {
				bits = 1
			}
		default:
			if s, ok := v.(string); ok && len(b.Enum) > 0 {
				raw64, ok := b.Enum.ReverseLookup(s)
				if !ok {
					return nil, errBadShape(def.Name, fmt.Sprintf("unknown bitfield label %q for %q", s, b.Name))
				}
				bits = uint64(raw64)
			} else if n, ok := toFloat64(v); ok {
				bits = uint64(n)
			} else {
				return nil, errBadShape(def.Name, fmt.Sprintf("invalid value for bitfield %q", b.Name))
			}
		}
		raw = b.Pack(raw, bits)
	}
	return writeRawUint(def, raw)
}

func writeRawValue(def Definition, raw float64) ([]byte, error) {
	switch def.Type {
	case TypeF32:
		buf := make([]byte, 4)
		bits := math.Float32bits(float32(raw))
		if def.Order == LittleEndian {
			binary.LittleEndian.PutUint32(buf, bits)
		} else {
			binary.BigEndian.PutUint32(buf, bits)
		}
		return buf, nil
	case TypeF64:
		buf := make([]byte, 8)
		bits := math.Float64bits(raw)
		if def.Order == LittleEndian {
			binary.LittleEndian.PutUint64(buf, bits)
		} else {
			binary.BigEndian.PutUint64(buf, bits)
		}
		return buf, nil
	default:
		return writeRawUint(def, uint64(int64(raw)))
	}
}

func writeRawUint(def Definition, raw uint64) ([]byte, error) {
	width := elementWidth(def)
	if width == 0 {
		w, err := def.Type.ByteWidth()
		if err != nil {
			return nil, err
		}
		width = w
	}
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(raw)
	case 2:
		if def.Order == LittleEndian {
			binary.LittleEndian.PutUint16(buf, uint16(raw))
		} else {
			binary.BigEndian.PutUint16(buf, uint16(raw))
		}
	case 4:
		if def.Order == LittleEndian {
			binary.LittleEndian.PutUint32(buf, uint32(raw))
		} else {
			binary.BigEndian.PutUint32(buf, uint32(raw))
		}
	case 8:
		if def.Order == LittleEndian {
			binary.LittleEndian.PutUint64(buf, raw)
		} else {
			binary.BigEndian.PutUint64(buf, raw)
		}
	default:
		return nil, fmt.Errorf("conv: %s: unsupported integer width %d", def.Name, width)
	}
	return buf, nil
}

func encodeString(def Definition, value interface{}) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errBadShape(def.Name, "string value must be a JSON string")
	}
	if def.StringLength <= 0 {
		return nil, fmt.Errorf("conv: %s: string type requires a configured length", def.Name)
	}
	buf := make([]byte, def.StringLength)
	n := copy(buf, s)
	for i := n; i < def.StringLength; i++ {
		buf[i] = 0
	}
	return buf, nil
}

func encodeHex(def Definition, value interface{}) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errBadShape(def.Name, "bytes value must be a hex JSON string")
	}
	if len(s)%2 != 0 {
		return nil, errBadShape(def.Name, "hex string must have even length")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexVal(s[i*2])
		lo, ok2 := hexVal(s[i*2+1])
		if !ok1 || !ok2 {
			return nil, errBadShape(def.Name, "invalid hex character")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
