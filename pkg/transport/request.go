package transport

import (
	"net/http"
	"strings"
)

// Verb is the HTTP method used by Send.
type Verb string

const (
	GET  Verb = http.MethodGet
	POST Verb = http.MethodPost
)

// RequestSpec describes one call against the site. It is treated as immutable
// once handed to the transport.
type RequestSpec struct {
	// Domain is the scheme and host, e.g. "https://www.example.com".
	Domain string

	// Path is the endpoint path, e.g. "/api/v1/api.php".
	Path string

	// Method is the JSON-RPC method ("Namespace.verb"). Empty for plain requests.
	Method string

	Params Params

	// Header holds extra headers, including a Cookie header when the endpoint
	// needs the session.
	Header http.Header

	// JSON sends Params as a JSON body on POST instead of a form body.
	JSON bool

	// Route is the metric label for plain requests, e.g. "/wiki/m/{id}".
	// When empty, numeric path segments are replaced by "{id}".
	Route string
}

// URL joins Domain and Path.
func (s RequestSpec) URL() string {
	return strings.TrimRight(s.Domain, "/") + "/" + strings.TrimLeft(s.Path, "/")
}

// Endpoint is the label used for logs and metrics: the RPC method when set,
// else the path.
func (s RequestSpec) Endpoint() string {
	if s.Method != "" {
		return s.Method
	}
	return s.Path
}

// Label returns the endpoint name used as metric label. Unlike Endpoint it
// does not carry per-resource ids.
func (s RequestSpec) Label() string {
	switch {
	case s.Method != "":
		return s.Method
	case s.Route != "":
		return s.Route
	}
	segments := strings.Split(s.Path, "/")
	for i, seg := range segments {
		if seg != "" && strings.Trim(seg, "0123456789") == "" {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// Response is the raw result of a request. Status codes are not interpreted.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}
