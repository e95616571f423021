package uds

import (
	"testing"

	"github.com/r3e-network/sovd-gateway/infrastructure/errors"
)

func TestClassifyPositive(t *testing.T) {
	raw := PositiveResponse(ReadDataByID, []byte{0xF1, 0x90, 0x01})
	resp := Classify(ReadDataByID, raw)
	if resp.Kind != KindPositive {
		t.Fatalf("expected positive, got %v", resp.Kind)
	}
	if len(resp.Data) != 3 || resp.Data[0] != 0xF1 {
		t.Fatalf("unexpected data: %v", resp.Data)
	}
}

func TestClassifyNegative(t *testing.T) {
	raw := NegativeResponse(ReadDataByID, NRCRequestOutOfRange)
	resp := Classify(ReadDataByID, raw)
	if resp.Kind != KindNegative {
		t.Fatalf("expected negative, got %v", resp.Kind)
	}
	if resp.NRC != NRCRequestOutOfRange || resp.Service != ReadDataByID {
		t.Fatalf("unexpected negative fields: %+v", resp)
	}
}

func TestClassifyMalformed(t *testing.T) {
	cases := [][]byte{nil, {}, {0x00}, {0x7F, 0x22}, {0x99}}
	for _, raw := range cases {
		if Classify(ReadDataByID, raw).Kind != KindMalformed {
			t.Fatalf("expected malformed for %v", raw)
		}
	}
}

func TestErrorForNRCCategories(t *testing.T) {
	tests := []struct {
		nrc      byte
		category errors.Category
	}{
		{NRCServiceNotSupported, errors.CategoryNotSupported},
		{NRCRequestOutOfRange, errors.CategoryInvalidRequest},
		{NRCConditionsNotCorrect, errors.CategorySessionRequired},
		{NRCSecurityAccessDenied, errors.CategorySecurityRequired},
		{NRCExceededNumberOfAttempts, errors.CategoryRateLimited},
		{0x99, errors.CategoryECUError},
	}
	for _, tc := range tests {
		err := ErrorForNRC(ReadDataByID, tc.nrc, 1)
		de := errors.AsDiagError(err)
		if de == nil || de.Category != tc.category {
			t.Fatalf("nrc 0x%02X: expected category %s, got %+v", tc.nrc, tc.category, de)
		}
	}
}

func TestIsResponsePending(t *testing.T) {
	if !IsResponsePending(NRCResponsePending) {
		t.Fatal("expected 0x78 to be response-pending")
	}
	if IsResponsePending(NRCRequestOutOfRange) {
		t.Fatal("expected 0x31 to not be response-pending")
	}
}

func TestRequestBuildsPDU(t *testing.T) {
	req := Request(DiagnosticSessionControl, Sub(SessionExtended), nil)
	if len(req) != 2 || req[0] != byte(DiagnosticSessionControl) || req[1] != SessionExtended {
		t.Fatalf("unexpected request PDU: %v", req)
	}
}
