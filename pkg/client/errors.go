package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Sternrassler/sitebackup/pkg/transport"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when the retry budget is used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrUnrecoverable marks failures that must end the whole run. The task
	// runner flushes every active checkpoint and exits when it sees one.
	ErrUnrecoverable = errors.New("unrecoverable failure")

	// ErrForbidden matches 403 responses. Callers abandon the single fetch.
	ErrForbidden = errors.New("resource forbidden")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassUpstreamTimeout represents 524 responses.
	ErrorClassUpstreamTimeout ErrorClass = "upstream_timeout"

	// ErrorClassNetwork represents DNS resolution failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassForbidden represents 403 responses.
	ErrorClassForbidden ErrorClass = "forbidden"

	// ErrorClassClient represents other 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents other 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassFatal represents any other transport failure.
	ErrorClassFatal ErrorClass = "fatal"
)

// StatusUpstreamTimeout is the CDN status for an origin that did not answer in time.
const StatusUpstreamTimeout = 524

// RequestError is a failed request with enough context to locate it.
type RequestError struct {
	Endpoint   string
	ID         string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	target := e.Endpoint
	if e.ID != "" {
		target += " (id " + e.ID + ")"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", target, e.ErrorClass, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %v", target, e.ErrorClass, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is reports whether a 403 error matches ErrForbidden.
func (e *RequestError) Is(target error) bool {
	return target == ErrForbidden && e.ErrorClass == ErrorClassForbidden
}

// ClassifyStatus maps an HTTP status to an error class. Statuses below 400
// return "".
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == StatusUpstreamTimeout:
		return ErrorClassUpstreamTimeout
	case status == http.StatusForbidden:
		return ErrorClassForbidden
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ClassifyError maps a transport-level error to an error class.
func ClassifyError(err error) ErrorClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ErrorClass
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorClassNetwork
	}
	return ErrorClassFatal
}

// shouldRetry determines if an error class is transient.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassUpstreamTimeout, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

func statusError(endpoint, id string, resp *transport.Response) error {
	if resp.Status < 400 {
		return nil
	}
	return &RequestError{
		Endpoint:   endpoint,
		ID:         id,
		StatusCode: resp.Status,
		ErrorClass: ClassifyStatus(resp.Status),
		Message:    http.StatusText(resp.Status),
	}
}

func transportError(endpoint, id string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &RequestError{
		Endpoint:   endpoint,
		ID:         id,
		ErrorClass: ClassifyError(err),
		Err:        err,
	}
}

// IsRemote reports whether err is a remote logical error: the call went
// through but the remote operation failed. Callers treat it as "no data".
func IsRemote(err error) bool {
	var rpcErr *transport.RPCError
	return errors.As(err, &rpcErr)
}

// IsUnrecoverable reports whether err must end the run.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}
