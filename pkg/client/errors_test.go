package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/Sternrassler/sitebackup/pkg/transport"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{304, ""},
		{400, ErrorClassClient},
		{403, ErrorClassForbidden},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{524, ErrorClassUpstreamTimeout},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := ClassifyStatus(tt.status); got != tt.want {
				t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "example.invalid"}

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"dns", dnsErr, ErrorClassNetwork},
		{"wrapped dns", fmt.Errorf("dial: %w", dnsErr), ErrorClassNetwork},
		{"request error", &RequestError{ErrorClass: ErrorClassRateLimit}, ErrorClassRateLimit},
		{"other", errors.New("connection reset"), ErrorClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassRateLimit, true},
		{ErrorClassUpstreamTimeout, true},
		{ErrorClassNetwork, true},
		{ErrorClassForbidden, false},
		{ErrorClassClient, false},
		{ErrorClassServer, false},
		{ErrorClassFatal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestRequestError_Error(t *testing.T) {
	withStatus := &RequestError{
		Endpoint:   "News.list",
		ID:         "0000001",
		StatusCode: 429,
		ErrorClass: ErrorClassRateLimit,
		Message:    "Too Many Requests",
	}
	want := "News.list (id 0000001): rate_limit error (status 429): Too Many Requests"
	if got := withStatus.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	withErr := &RequestError{
		Endpoint:   "/files/a.zip",
		ErrorClass: ErrorClassFatal,
		Err:        errors.New("boom"),
	}
	want = "/files/a.zip: fatal error: boom"
	if got := withErr.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRequestError_IsForbidden(t *testing.T) {
	forbidden := statusError("/secret", "", &transport.Response{Status: 403})
	if !errors.Is(forbidden, ErrForbidden) {
		t.Error("403 should match ErrForbidden")
	}
	if !Forbidden(fmt.Errorf("wrapped: %w", forbidden)) {
		t.Error("wrapped 403 should match ErrForbidden")
	}

	notFound := statusError("/missing", "", &transport.Response{Status: 404})
	if errors.Is(notFound, ErrForbidden) {
		t.Error("404 should not match ErrForbidden")
	}
}

func TestStatusError_Success(t *testing.T) {
	for _, status := range []int{200, 201, 302} {
		if err := statusError("x", "", &transport.Response{Status: status}); err != nil {
			t.Errorf("statusError(%d) = %v, want nil", status, err)
		}
	}
}

func TestTransportError_PassesContextErrors(t *testing.T) {
	err := transportError("x", "", context.Canceled)
	if err != context.Canceled {
		t.Errorf("transportError(context.Canceled) = %v, want context.Canceled", err)
	}

	err = transportError("x", "1", errors.New("refused"))
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T", err)
	}
	if reqErr.ErrorClass != ErrorClassFatal || reqErr.ID != "1" {
		t.Errorf("unexpected request error: %+v", reqErr)
	}
}

func TestIsRemote(t *testing.T) {
	remote := &transport.RPCError{Code: 12, Message: "not allowed"}
	if !IsRemote(remote) {
		t.Error("RPCError should be remote")
	}
	if !IsRemote(fmt.Errorf("ctx: %w", remote)) {
		t.Error("wrapped RPCError should be remote")
	}
	if IsRemote(&RequestError{ErrorClass: ErrorClassServer}) {
		t.Error("RequestError should not be remote")
	}
}

func TestIsUnrecoverable(t *testing.T) {
	err := fmt.Errorf("%w: %w after 3 attempts: %w", ErrUnrecoverable, ErrRetryExhausted, errors.New("429"))
	if !IsUnrecoverable(err) {
		t.Error("exhaustion error should be unrecoverable")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("exhaustion error should match ErrRetryExhausted")
	}
	if IsUnrecoverable(errors.New("plain")) {
		t.Error("plain error should not be unrecoverable")
	}
}
