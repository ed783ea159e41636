package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
)

// JSONRPCVersion is sent in every envelope.
const JSONRPCVersion = "2.0"

// Sequence hands out correlation ids. Ids are formatted as 7-digit
// zero-padded decimal strings and never reset for the lifetime of the
// Sequence.
type Sequence struct {
	n atomic.Uint64
}

// DefaultSequence is shared by every Transport that does not set its own, so
// ids are unique across all call sites of the process.
var DefaultSequence = &Sequence{}

// Next returns the next correlation id, starting at "0000001".
func (s *Sequence) Next() string {
	return fmt.Sprintf("%07d", s.n.Add(1))
}

// RPCRequest is the JSON-RPC request envelope.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
}

// CorrelationID accepts both string and numeric ids in responses.
type CorrelationID string

// UnmarshalJSON implements json.Unmarshaler.
func (c *CorrelationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CorrelationID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("correlation id: %w", err)
	}
	*c = CorrelationID(n.String())
	return nil
}

// RPCResponse is the JSON-RPC response envelope. Result is left raw so the
// caller decodes it into its own shape.
type RPCResponse struct {
	ID      CorrelationID   `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a remote logical error: the transport succeeded but the remote
// operation failed. It must not be retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`

	// Method and ID are filled in locally for log context.
	Method string `json:"-"`
	ID     string `json:"-"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("remote error %d in %s (id %s): %s", e.Code, e.Method, e.ID, e.Message)
	}
	return "remote error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// DecodeRPC parses a JSON-RPC response body.
func DecodeRPC(body []byte) (*RPCResponse, error) {
	var env RPCResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode rpc envelope: %w", err)
	}
	return &env, nil
}
