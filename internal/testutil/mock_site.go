// Package testutil provides testing utilities for the site client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// RPCCall is a decoded JSON-RPC request as seen by the mock.
type RPCCall struct {
	ID     string
	Method string
	Params map[string]any
}

// RPCFault makes a handler answer with a populated error field.
type RPCFault struct {
	Code    int
	Message string
}

func (f *RPCFault) Error() string { return f.Message }

// RPCHandler produces the result for one call. Returning an *RPCFault
// produces a remote logical error.
type RPCHandler func(call RPCCall) (any, error)

// MockSite is a configurable mock of the site: a JSON-RPC endpoint plus
// arbitrary page handlers.
type MockSite struct {
	server  *httptest.Server
	apiPath string

	mu       sync.Mutex
	rpc      map[string]RPCHandler
	pages    map[string]http.HandlerFunc
	failures map[string][]int
	calls    map[string]int
	ids      []string
	header   http.Header
}

// NewMockSite creates and starts a mock site serving JSON-RPC at apiPath.
func NewMockSite(apiPath string) *MockSite {
	m := &MockSite{
		apiPath:  apiPath,
		rpc:      make(map[string]RPCHandler),
		pages:    make(map[string]http.HandlerFunc),
		failures: make(map[string][]int),
		calls:    make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the mock server URL.
func (m *MockSite) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSite) Close() {
	m.server.Close()
}

// HandleRPC registers a handler for a JSON-RPC method.
func (m *MockSite) HandleRPC(method string, h RPCHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpc[method] = h
}

// HandlePage registers a handler for a plain path.
func (m *MockSite) HandlePage(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[path] = h
}

// FailNext makes the next len(statuses) requests for key (an RPC method or a
// path) answer with the given statuses before the handler runs.
func (m *MockSite) FailNext(key string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = append(m.failures[key], statuses...)
}

// Calls returns how many requests reached key, failures included.
func (m *MockSite) Calls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

// LastHeader returns the headers of the most recent request.
func (m *MockSite) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

// IDs returns the correlation ids received, in arrival order.
func (m *MockSite) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

func (m *MockSite) nextFailure(key string) int {
	queue := m.failures[key]
	if len(queue) == 0 {
		return 0
	}
	m.failures[key] = queue[1:]
	return queue[0]
}

func (m *MockSite) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.header = r.Header.Clone()
	m.mu.Unlock()

	if r.URL.Path == m.apiPath && r.Method == http.MethodPost {
		m.serveRPC(w, r)
		return
	}

	m.mu.Lock()
	m.calls[r.URL.Path]++
	status := m.nextFailure(r.URL.Path)
	h, ok := m.pages[r.URL.Path]
	m.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (m *MockSite) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		ID     string         `json:"id"`
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls[req.Method]++
	m.ids = append(m.ids, req.ID)
	status := m.nextFailure(req.Method)
	h, ok := m.rpc[req.Method]
	m.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	resp := map[string]any{"id": req.ID, "jsonrpc": "2.0", "result": nil}
	if !ok {
		resp["error"] = map[string]any{"code": -32601, "message": "Method not found"}
	} else {
		result, err := h(RPCCall{ID: req.ID, Method: req.Method, Params: req.Params})
		if fault, isFault := err.(*RPCFault); isFault {
			resp["error"] = map[string]any{"code": fault.Code, "message": fault.Message}
		} else if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		} else {
			resp["result"] = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// PagedHandler serves items in pages of perPage, reading the page number from
// the "page" param and reporting "total_pages". When withTotal is false the
// total is omitted and pages past the end are empty.
func PagedHandler(items []any, perPage int, withTotal bool) RPCHandler {
	return func(call RPCCall) (any, error) {
		page := 1
		if v, ok := call.Params["page"].(float64); ok {
			page = int(v)
		}
		total := (len(items) + perPage - 1) / perPage
		start := (page - 1) * perPage
		var chunk []any
		if start >= 0 && start < len(items) {
			end := min(start+perPage, len(items))
			chunk = items[start:end]
		}
		if chunk == nil {
			chunk = []any{}
		}
		result := map[string]any{"items": chunk}
		if withTotal {
			result["total_pages"] = total
		}
		return result, nil
	}
}

// Items builds n items with ids "1".."n".
func Items(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = map[string]any{"id": fmt.Sprint(i + 1), "title": fmt.Sprintf("item %d", i+1)}
	}
	return out
}

// SlowHandler wraps h with a fixed delay.
func SlowHandler(d time.Duration, h RPCHandler) RPCHandler {
	return func(call RPCCall) (any, error) {
		time.Sleep(d)
		return h(call)
	}
}
