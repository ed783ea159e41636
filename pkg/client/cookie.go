package client

import (
	"fmt"
	"net/http"

	"github.com/Sternrassler/sitebackup/pkg/transport"
)

// CookieOrder selects how session cookies are concatenated. Endpoints differ,
// so each call site states the order it was confirmed to work with.
type CookieOrder int

const (
	// SessionFirst renders "<session>; <csrf>".
	SessionFirst CookieOrder = iota

	// CSRFFirst renders "<csrf>; <session>".
	CSRFFirst
)

// ParseCookieOrder maps "session_first" or "csrf_first" to a CookieOrder.
func ParseCookieOrder(s string) (CookieOrder, error) {
	switch s {
	case "", "session_first":
		return SessionFirst, nil
	case "csrf_first":
		return CSRFFirst, nil
	default:
		return SessionFirst, fmt.Errorf("unknown cookie order %q", s)
	}
}

// SessionCookie assembles the Cookie header value. Missing parts are omitted.
func (c *Client) SessionCookie(order CookieOrder) string {
	var session, csrf string
	if c.config.SessionID != "" {
		session = c.config.SessionCookieName + "=" + c.config.SessionID
	}
	if c.config.CSRFToken != "" {
		csrf = c.config.CSRFCookieName + "=" + c.config.CSRFToken
	}

	first, second := session, csrf
	if order == CSRFFirst {
		first, second = csrf, session
	}
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + "; " + second
	}
}

// WithSession returns a copy of spec carrying the session cookie.
func (c *Client) WithSession(spec transport.RequestSpec, order CookieOrder) transport.RequestSpec {
	cookie := c.SessionCookie(order)
	if cookie == "" {
		return spec
	}
	h := spec.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Cookie", cookie)
	spec.Header = h
	return spec
}
