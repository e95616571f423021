package conv

import (
	"reflect"
	"testing"
)

func TestDecodeScalarWithScale(t *testing.T) {
	def := Definition{Name: "engine_rpm", Type: TypeU16, Order: BigEndian, Shape: ScalarShape(), Scale: 0.25}
	data := []byte{0x01, 0x90} // 400 raw * 0.25 = 100
	got, err := Decode(def, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, ok := got.(int64); !ok || v != 100 {
		t.Fatalf("expected integral 100, got %#v", got)
	}
}

func TestDecodeScalarOutOfRange(t *testing.T) {
	def := Definition{
		Name: "coolant_temp", Type: TypeI16, Order: BigEndian, Shape: ScalarShape(),
		Scale: 1, Bounds: Bounds{Min: -40, Max: 150, Active: true},
	}
	data := []byte{0x00, 0xC8} // 200, above max
	got, err := Decode(def, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	oor, ok := got.(OutOfRange)
	if !ok {
		t.Fatalf("expected OutOfRange, got %#v", got)
	}
	if v, ok := oor.Value.(int64); !ok || v != 200 {
		t.Fatalf("unexpected out-of-range value: %#v", oor)
	}
}

func TestDecodeEnum(t *testing.T) {
	def := Definition{
		Name: "gear_state", Type: TypeU8, Shape: ScalarShape(),
		Enum: EnumTable{{Raw: 0, Label: "park"}, {Raw: 1, Label: "drive"}},
	}
	got, err := Decode(def, []byte{0x01})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok || m["label"] != "drive" {
		t.Fatalf("expected drive label, got %#v", got)
	}
}

func TestDecodeBitfield(t *testing.T) {
	def := Definition{
		Name: "door_status", Type: TypeU8, Shape: ScalarShape(),
		Bits: []BitField{
			{Name: "front_left", StartBit: 0, Width: 1},
			{Name: "front_right", StartBit: 1, Width: 1},
		},
	}
	got, err := Decode(def, []byte{0x02})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := got.(map[string]interface{})
	if m["front_left"] != false || m["front_right"] != true {
		t.Fatalf("unexpected bitfield decode: %#v", m)
	}
}

func TestDecodeArrayLabeled(t *testing.T) {
	def := Definition{
		Name: "wheel_speeds", Type: TypeU8, Shape: ArrayShape(2),
		Labels: []string{"front_left", "front_right"},
	}
	got, err := Decode(def, []byte{10, 20})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := got.(map[string]interface{})
	if m["front_left"] != int64(10) || m["front_right"] != int64(20) {
		t.Fatalf("unexpected labeled array decode: %#v", m)
	}
}

func TestDecodeStringAndBytes(t *testing.T) {
	strDef := Definition{Name: "vin", Type: TypeString, StringLength: 8}
	got, err := Decode(strDef, []byte("ABC\x00\x00\x00\x00\x00"))
	if err != nil || got != "ABC" {
		t.Fatalf("expected trimmed string ABC, got %#v, %v", got, err)
	}

	bytesDef := Definition{Name: "raw_blob", Type: TypeBytes, StringLength: 2}
	got, err = Decode(bytesDef, []byte{0xDE, 0xAD})
	if err != nil || got != "dead" {
		t.Fatalf("expected hex dead, got %#v, %v", got, err)
	}
}

func TestDecodeMalformedLength(t *testing.T) {
	def := Definition{Name: "engine_rpm", Type: TypeU16, Shape: ScalarShape()}
	if _, err := Decode(def, []byte{0x01}); err == nil {
		t.Fatal("expected error for short payload")
	}
}

func TestEncodeDecodeScalarRoundTrip(t *testing.T) {
	def := Definition{Name: "engine_rpm", Type: TypeU16, Order: BigEndian, Shape: ScalarShape(), Scale: 0.25}
	encoded, err := Encode(def, float64(100))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(def, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, ok := decoded.(int64); !ok || v != 100 {
		t.Fatalf("round trip mismatch: %#v", decoded)
	}
}

func TestEncodeEnumLabel(t *testing.T) {
	def := Definition{
		Name: "gear_state", Type: TypeU8, Shape: ScalarShape(),
		Enum: EnumTable{{Raw: 0, Label: "park"}, {Raw: 1, Label: "drive"}},
	}
	got, err := Encode(def, "drive")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(got, []byte{0x01}) {
		t.Fatalf("expected [0x01], got %v", got)
	}
	if _, err := Encode(def, "reverse"); err == nil {
		t.Fatal("expected error for unknown enum label")
	}
}

func TestEncodeOutOfBounds(t *testing.T) {
	def := Definition{
		Name: "coolant_temp", Type: TypeI16, Shape: ScalarShape(),
		Scale: 1, Bounds: Bounds{Min: -40, Max: 150, Active: true},
	}
	if _, err := Encode(def, float64(999)); err == nil {
		t.Fatal("expected out-of-range encode error")
	}
}

func TestEncodeBitfieldRoundTrip(t *testing.T) {
	def := Definition{
		Name: "door_status", Type: TypeU8, Shape: ScalarShape(),
		Bits: []BitField{
			{Name: "front_left", StartBit: 0, Width: 1},
			{Name: "front_right", StartBit: 1, Width: 1},
		},
	}
	encoded, err := Encode(def, map[string]interface{}{"front_left": false, "front_right": true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(def, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := decoded.(map[string]interface{})
	if m["front_left"] != false || m["front_right"] != true {
		t.Fatalf("bitfield round trip mismatch: %#v", m)
	}
}

func TestPrecisionFromScale(t *testing.T) {
	cases := []struct {
		scale float64
		want  int
	}{
		{1, 0},
		{0.25, 2},
		{0.1, 1},
		{0.001, 3},
	}
	for _, tc := range cases {
		if got := PrecisionFromScale(tc.scale); got != tc.want {
			t.Fatalf("PrecisionFromScale(%v) = %d, want %d", tc.scale, got, tc.want)
		}
	}
}

func TestToJSONNumberIntegralVsFloat(t *testing.T) {
	if v := ToJSONNumber(92.0); v != int64(92) {
		t.Fatalf("expected integral 92, got %#v (must never render as 92.0)", v)
	}
	if v := ToJSONNumber(92.5); v != 92.5 {
		t.Fatalf("expected float 92.5, got %#v", v)
	}
}

func TestValidateDynamicTarget(t *testing.T) {
	if err := ValidateDynamicTarget(0xF250); err != nil {
		t.Fatalf("expected 0xF250 to be a valid dynamic target: %v", err)
	}
	if err := ValidateDynamicTarget(0xF100); err == nil {
		t.Fatal("expected 0xF100 to be rejected as outside the dynamic DID range")
	}
}

func TestComposeDynamicPayload(t *testing.T) {
	sources := []DynamicSource{
		{SourceDID: 0xF190, Position1: 1, ByteCount: 2},
		{SourceDID: 0xF190, Position1: 3, ByteCount: 1},
	}
	buffers := map[uint16][]byte{0xF190: {0xAA, 0xBB, 0xCC, 0xDD}}
	got, err := ComposeDynamicPayload(sources, buffers)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !reflect.DeepEqual(got, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("unexpected composed payload: %v", got)
	}
}

func TestComposeDynamicPayloadOutOfBounds(t *testing.T) {
	sources := []DynamicSource{{SourceDID: 0xF190, Position1: 3, ByteCount: 4}}
	buffers := map[uint16][]byte{0xF190: {0x01, 0x02}}
	if _, err := ComposeDynamicPayload(sources, buffers); err == nil {
		t.Fatal("expected bounds error when source slice exceeds buffer length")
	}
}
