package conv

import (
	"fmt"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// errOutOfRange builds the invalid-request error raised when an encode
// value falls outside a definition's configured bounds (spec.md §4.3:
// "decode... clamp-or-mark-out-of-range"; "encode... enforce bounds").
func errOutOfRange(name string, value, min, max float64) *errors.DiagError {
	return errors.InvalidRequest(fmt.Sprintf("value %v for %q is out of range [%v, %v]", value, name, min, max)).
		WithDetails("parameter", name).
		WithDetails("min", min).
		WithDetails("max", max)
}

// errBadShape builds the invalid-request error for a shape/type mismatch
// between a definition and the JSON value presented to Encode.
func errBadShape(name, reason string) *errors.DiagError {
	return errors.InvalidRequest(fmt.Sprintf("%s: %s", name, reason)).WithDetails("parameter", name)
}

// errMalformed builds the protocol error for a payload whose length does
// not match the definition's expected byte width.
func errMalformed(name string, want, got int) *errors.DiagError {
	return errors.Protocol(fmt.Sprintf("%s: expected %d bytes, got %d", name, want, got))
}
