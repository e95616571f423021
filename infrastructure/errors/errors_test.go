package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestDiagError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *DiagError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(CategoryEntityNotFound, "entity \"engine\" not found"),
			want: "entity-not-found: entity \"engine\" not found",
		},
		{
			name: "error with underlying error",
			err:  Wrap(CategoryTransport, "transport error", errors.New("connection closed")),
			want: "transport: transport error: connection closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiagError_Unwrap(t *testing.T) {
	underlying := errors.New("connection closed")
	err := Wrap(CategoryTransport, "transport error", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestDiagError_WithDetails(t *testing.T) {
	err := New(CategoryInvalidRequest, "bad value")
	err.WithDetails("field", "engine_rpm").WithDetails("reason", "out of range")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "engine_rpm" {
		t.Errorf("Details[field] = %v, want engine_rpm", err.Details["field"])
	}
}

func TestEntityNotFound(t *testing.T) {
	err := EntityNotFound("engine")

	if err.Category != CategoryEntityNotFound {
		t.Errorf("Category = %v, want %v", err.Category, CategoryEntityNotFound)
	}
	if err.HTTPStatus() != http.StatusNotFound {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusNotFound)
	}
	if err.Details["id"] != "engine" {
		t.Errorf("Details[id] = %v, want engine", err.Details["id"])
	}
}

func TestParameterNotFound(t *testing.T) {
	err := ParameterNotFound("engine_rpm")
	if err.HTTPStatus() != http.StatusNotFound {
		t.Errorf("HTTPStatus() = %d, want 404", err.HTTPStatus())
	}
}

func TestSecurityRequired(t *testing.T) {
	err := SecurityRequired(1)

	if err.Category != CategorySecurityRequired {
		t.Errorf("Category = %v, want %v", err.Category, CategorySecurityRequired)
	}
	if err.HTTPStatus() != http.StatusForbidden {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusForbidden)
	}
	if err.Details["level"] != 1 {
		t.Errorf("Details[level] = %v, want 1", err.Details["level"])
	}
}

func TestSessionRequired(t *testing.T) {
	err := SessionRequired("extended")

	if err.HTTPStatus() != http.StatusPreconditionFailed {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusPreconditionFailed)
	}
	if err.Details["session"] != "extended" {
		t.Errorf("Details[session] = %v, want extended", err.Details["session"])
	}
}

func TestNotSupported(t *testing.T) {
	err := NotSupported("software_update")
	if err.HTTPStatus() != http.StatusNotImplemented {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusNotImplemented)
	}
}

func TestBusy(t *testing.T) {
	err := Busy("flash transfer")
	if err.HTTPStatus() != http.StatusConflict {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusConflict)
	}
}

func TestRateLimited(t *testing.T) {
	err := RateLimited("security access attempts exceeded")
	if err.Category != CategoryRateLimited {
		t.Errorf("Category = %v, want %v", err.Category, CategoryRateLimited)
	}
	if err.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusTooManyRequests)
	}
}

func TestTransport(t *testing.T) {
	underlying := errors.New("connection closed")
	err := Transport(underlying)

	if err.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusServiceUnavailable)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestTimeout(t *testing.T) {
	err := Timeout("read_data_by_id")

	if err.HTTPStatus() != http.StatusGatewayTimeout {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusGatewayTimeout)
	}
	if err.Details["operation"] != "read_data_by_id" {
		t.Errorf("Details[operation] = %v, want read_data_by_id", err.Details["operation"])
	}
}

func TestProtocol(t *testing.T) {
	err := Protocol("malformed PDU")
	if err.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusBadGateway)
	}
}

func TestECUError(t *testing.T) {
	// Scenario 6: NRC 0x31 (out of range) on SID 0x22 (read data by id).
	err := ECUError(0x31, 0x22, "request out of range")

	if err.Category != CategoryECUError {
		t.Errorf("Category = %v, want %v", err.Category, CategoryECUError)
	}
	if err.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusBadGateway)
	}
	if err.NRC != 0x31 || err.SID != 0x22 {
		t.Errorf("NRC/SID = %#x/%#x, want 0x31/0x22", err.NRC, err.SID)
	}
}

func TestInternal(t *testing.T) {
	underlying := errors.New("unexpected nil codec")
	err := Internal("internal error", underlying)

	if err.Category != CategoryInternal {
		t.Errorf("Category = %v, want %v", err.Category, CategoryInternal)
	}
	if err.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusInternalServerError)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		want     bool
	}{
		{name: "matching category", err: EntityNotFound("engine"), category: CategoryEntityNotFound, want: true},
		{name: "mismatched category", err: EntityNotFound("engine"), category: CategoryTimeout, want: false},
		{name: "standard error", err: errors.New("plain"), category: CategoryInternal, want: false},
		{name: "nil error", err: nil, category: CategoryInternal, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.category); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "diag error", err: SecurityRequired(1), want: http.StatusForbidden},
		{name: "standard error", err: errors.New("plain"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
