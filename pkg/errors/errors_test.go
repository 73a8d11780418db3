package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeBadRequest, "test message: %s", "value")

	if err.Code != ErrCodeBadRequest {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeBadRequest)
	}

	if err.Message != "test message: value" {
		t.Errorf("Message = %v, want %v", err.Message, "test message: value")
	}

	expected := "BAD_REQUEST: test message: value"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(ErrCodeCompilation, cause, "pdflatex failed")

	if err.Code != ErrCodeCompilation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCompilation)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeIO, "test"),
			code:     ErrCodeIO,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeIO, "test"),
			code:     ErrCodeRasterization,
			expected: false,
		},
		{
			name:     "outermost code wins",
			err:      Wrap(ErrCodeRasterization, New(ErrCodeIO, "inner"), "outer"),
			code:     ErrCodeRasterization,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeBadRequest,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeBadRequest,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeNotFound, "x")); got != ErrCodeNotFound {
		t.Errorf("GetCode() = %v, want %v", got, ErrCodeNotFound)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %v, want empty", got)
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(New(ErrCodeBadRequest, "tikzCode is required")); got != "tikzCode is required" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(errors.New("plain error")); got != "plain error" {
		t.Errorf("UserMessage(plain) = %q", got)
	}
}

func TestDetail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plain", errors.New("boom"), "boom"},
		{"message only", New(ErrCodeIO, "create workspace"), "create workspace"},
		{
			"nested",
			Wrap(ErrCodeCompilation, Wrap(ErrCodeIO, errors.New("disk full"), "write"), "compile"),
			"compile: write: disk full",
		},
		{"empty message", Wrap(ErrCodeInternal, errors.New("cause"), ""), "cause"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detail(tt.err); got != tt.want {
				t.Errorf("Detail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrCodeBadRequest, ""), http.StatusBadRequest},
		{New(ErrCodeUnauthorized, ""), http.StatusUnauthorized},
		{New(ErrCodeForbidden, ""), http.StatusForbidden},
		{New(ErrCodeNotFound, ""), http.StatusNotFound},
		{New(ErrCodeCompilation, ""), http.StatusInternalServerError},
		{New(ErrCodeRasterization, ""), http.StatusInternalServerError},
		{New(ErrCodeIO, ""), http.StatusInternalServerError},
		{New(ErrCodeUpstream, ""), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
