package uds

import (
	"fmt"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

// ResponseKind classifies an incoming UDS reply.
type ResponseKind int

const (
	KindPositive ResponseKind = iota
	KindNegative
	KindMalformed
)

// Response is a classified UDS reply.
type Response struct {
	Kind    ResponseKind
	Service ServiceID
	NRC     byte   // valid only for KindNegative
	Data    []byte // positive response payload, service id stripped
}

// Classify inspects a raw reply buffer and determines its shape
// (spec.md §4.2): positive (first byte = request SID + 0x40), negative
// (0x7F, echoed SID, NRC), or malformed.
func Classify(requestService ServiceID, raw []byte) Response {
	if len(raw) == 0 {
		return Response{Kind: KindMalformed}
	}
	if raw[0] == byte(NegativeResponseSID) {
		if len(raw) != 3 {
			return Response{Kind: KindMalformed}
		}
		return Response{Kind: KindNegative, Service: ServiceID(raw[1]), NRC: raw[2]}
	}
	if raw[0] == byte(requestService)+0x40 {
		return Response{Kind: KindPositive, Service: requestService, Data: raw[1:]}
	}
	return Response{Kind: KindMalformed}
}

// ErrorForNRC maps a negative response code to the outbound SOVD error
// category per the canonical table in spec.md §4.2. IsResponsePending
// reports NRC 0x78 separately since callers must re-arm rather than
// surface an error.
func ErrorForNRC(service ServiceID, nrc byte, securityLevel int) error {
	switch nrc {
	case NRCServiceNotSupported, NRCSubFunctionNotSupported:
		return errors.NotSupported(fmt.Sprintf("service 0x%02X", byte(service)))
	case NRCIncorrectMessageLength, NRCRequestOutOfRange:
		return errors.InvalidRequest(fmt.Sprintf("NRC 0x%02X on service 0x%02X", nrc, byte(service)))
	case NRCConditionsNotCorrect:
		return errors.SessionRequired("any")
	case NRCSubFunctionNotSupportedInSession, NRCServiceNotSupportedInSession:
		return errors.SessionRequired("required")
	case NRCSecurityAccessDenied, NRCInvalidKey:
		return errors.SecurityRequired(securityLevel)
	case NRCExceededNumberOfAttempts, NRCRequiredTimeDelayNotExpired:
		return errors.RateLimited(fmt.Sprintf("NRC 0x%02X on service 0x%02X", nrc, byte(service)))
	default:
		return errors.ECUError(nrc, byte(service), fmt.Sprintf("ECU rejected service 0x%02X with NRC 0x%02X", byte(service), nrc))
	}
}

// IsResponsePending reports whether nrc is the 0x78 "response pending"
// code that the service layer must consume internally rather than
// surface (spec.md §4.2, §4.6, §9 Open Question (c)).
func IsResponsePending(nrc byte) bool { return nrc == NRCResponsePending }
