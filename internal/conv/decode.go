package conv

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// OutOfRange wraps a decoded physical value that fell outside the
// definition's configured bounds. Decode reports it rather than coercing
// the value (spec.md §4.3).
type OutOfRange struct {
	Raw   interface{} `json:"raw"`
	Value interface{} `json:"value"`
}

// Decode converts raw bytes into a JSON-ready value per the definition's
// type/shape/scale/enum/bitfield rules (spec.md §4.3).
func Decode(def Definition, data []byte) (interface{}, error) {
	want, err := def.ByteWidth()
	if err != nil {
		return nil, err
	}
	if len(data) != want {
		return nil, errMalformed(def.Name, want, len(data))
	}

	switch def.Type {
	case TypeString:
		return decodeString(data), nil
	case TypeBytes:
		return decodeHex(data), nil
	}

	if def.IsBitfield() {
		raw, err := readUint(data, def.Order)
		if err != nil {
			return nil, err
		}
		return decodeBitfield(def, raw), nil
	}

	switch def.Shape.Kind {
	case ShapeScalar:
		return decodeScalar(def, data)
	case ShapeArray:
		return decodeArray(def, data)
	case ShapeMatrix:
		return decodeMatrix(def, data)
	default:
		return nil, fmt.Errorf("conv: %s: unknown shape kind %q", def.Name, def.Shape.Kind)
	}
}

func elementWidth(def Definition) int {
	w, _ := def.Type.ByteWidth()
	return w
}

func readRawNumber(def Definition, data []byte) (float64, error) {
	if def.Type.IsInteger() {
		raw, err := readInt(data, def.Order, def.Type)
		if err != nil {
			return 0, err
		}
		return float64(raw), nil
	}
	switch def.Type {
	case TypeF32:
		bits := byteOrderUint32(data, def.Order)
		return float64(math.Float32frombits(bits)), nil
	case TypeF64:
		bits := byteOrderUint64(data, def.Order)
		return math.Float64frombits(bits), nil
	default:
		return 0, fmt.Errorf("conv: %s: unsupported numeric type %q", def.Name, def.Type)
	}
}

func decodeScalar(def Definition, data []byte) (interface{}, error) {
	raw, err := readRawNumber(def, data)
	if err != nil {
		return nil, err
	}
	return decodeWithEnumAndScale(def, raw), nil
}

func decodeWithEnumAndScale(def Definition, raw float64) interface{} {
	if len(def.Enum) > 0 {
		label, ok := def.Enum.Lookup(int64(raw))
		if ok {
			return map[string]interface{}{"raw": ToJSONNumber(raw), "label": label}
		}
		return map[string]interface{}{"raw": ToJSONNumber(raw)}
	}

	scale := def.Scale
	if scale == 0 {
		scale = 1
	}
	physical := raw*scale + def.Offset
	rounded := RoundForScale(physical, scale)

	if def.Bounds.Active && (rounded < def.Bounds.Min || rounded > def.Bounds.Max) {
		return OutOfRange{Raw: ToJSONNumber(raw), Value: ToJSONNumber(rounded)}
	}
	return ToJSONNumber(rounded)
}

func decodeArray(def Definition, data []byte) (interface{}, error) {
	width := elementWidth(def)
	n := def.Shape.Len
	values := make([]interface{}, n)
	for i := 0; i < n; i++ {
		chunk := data[i*width : (i+1)*width]
		raw, err := readRawNumber(def, chunk)
		if err != nil {
			return nil, err
		}
		values[i] = decodeWithEnumAndScale(def, raw)
	}

	if def.IsLabeledArray() {
		out := make(map[string]interface{}, n)
		for i, label := range def.Labels {
			if i < len(values) {
				out[label] = values[i]
			}
		}
		return out, nil
	}
	return values, nil
}

func decodeMatrix(def Definition, data []byte) (interface{}, error) {
	width := elementWidth(def)
	rows, cols := def.Shape.Rows, def.Shape.Cols
	grid := make([][]interface{}, rows)
	idx := 0
	for r := 0; r < rows; r++ {
		row := make([]interface{}, cols)
		for c := 0; c < cols; c++ {
			chunk := data[idx*width : (idx+1)*width]
			raw, err := readRawNumber(def, chunk)
			if err != nil {
				return nil, err
			}
			row[c] = decodeWithEnumAndScale(def, raw)
			idx++
		}
		grid[r] = row
	}

	out := map[string]interface{}{"values": grid}
	if len(def.Axes) > 0 {
		out["row_axis"] = def.Axes[0]
	}
	if len(def.Axes) > 1 {
		out["col_axis"] = def.Axes[1]
	}
	return out, nil
}

func decodeBitfield(def Definition, raw uint64) interface{} {
	out := make(map[string]interface{}, len(def.Bits))
	for _, b := range def.Bits {
		v := b.Extract(raw)
		if b.Width == 1 {
			out[b.Name] = v != 0
			continue
		}
		if len(b.Enum) > 0 {
			if label, ok := b.Enum.Lookup(int64(v)); ok {
				out[b.Name] = label
				continue
			}
		}
		out[b.Name] = v
	}
	return out
}

func decodeString(data []byte) string {
	s := string(data)
	return strings.TrimRight(s, "\x00")
}

func decodeHex(data []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(data)*2)
	for i, b := range data {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

func readInt(data []byte, order ByteOrder, t DataType) (int64, error) {
	u, err := readUint(data, order)
	if err != nil {
		return 0, err
	}
	if !t.IsSigned() {
		return int64(u), nil
	}
	switch len(data) {
	case 1:
		return int64(int8(u)), nil
	case 2:
		return int64(int16(u)), nil
	case 4:
		return int64(int32(u)), nil
	default:
		return int64(u), nil
	}
}

func readUint(data []byte, order ByteOrder) (uint64, error) {
	switch len(data) {
	case 1:
		return uint64(data[0]), nil
	case 2:
		return uint64(byteOrderUint16(data, order)), nil
	case 4:
		return uint64(byteOrderUint32(data, order)), nil
	case 8:
		return byteOrderUint64(data, order), nil
	default:
		return 0, fmt.Errorf("conv: unsupported integer width %d", len(data))
	}
}

func byteOrderUint16(data []byte, order ByteOrder) uint16 {
	if order == LittleEndian {
		return binary.LittleEndian.Uint16(data)
	}
	return binary.BigEndian.Uint16(data)
}

func byteOrderUint32(data []byte, order ByteOrder) uint32 {
	if order == LittleEndian {
		return binary.LittleEndian.Uint32(data)
	}
	return binary.BigEndian.Uint32(data)
}

func byteOrderUint64(data []byte, order ByteOrder) uint64 {
	if order == LittleEndian {
		return binary.LittleEndian.Uint64(data)
	}
	return binary.BigEndian.Uint64(data)
}
