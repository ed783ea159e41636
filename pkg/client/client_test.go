package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/sitebackup/internal/testutil"
	"github.com/Sternrassler/sitebackup/pkg/transport"
)

func newTestClient(t *testing.T, site *testutil.MockSite, mutate func(*Config)) (*Client, *fakeSleep) {
	t.Helper()
	s := &fakeSleep{}
	cfg := DefaultConfig(site.URL(), "sitebackup-test/1.0")
	cfg.APIPath = "/api"
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.Sleep = s.sleep
	cfg.ThrottleSpacing = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", DefaultConfig("https://www.example.com", "ua"), false},
		{"missing base url", DefaultConfig("", "ua"), true},
		{"missing user agent", DefaultConfig("https://www.example.com", ""), true},
		{"negative delay", func() Config {
			c := DefaultConfig("https://www.example.com", "ua")
			c.Retry.Delay = -time.Second
			return c
		}(), true},
		{"negative throttle spacing", func() Config {
			c := DefaultConfig("https://www.example.com", "ua")
			c.ThrottleSpacing = -time.Millisecond
			return c
		}(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_ZeroThrottleSpacing(t *testing.T) {
	cfg := DefaultConfig("https://www.example.com", "ua")
	cfg.ThrottleSpacing = 0
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := c.Throttler().Window().Spacing; got != 0 {
		t.Errorf("throttle spacing = %v, want 0", got)
	}
}

type idleRecorder struct {
	http.RoundTripper
	closed bool
}

func (r *idleRecorder) CloseIdleConnections() {
	r.closed = true
}

func TestClient_Close(t *testing.T) {
	rt := &idleRecorder{RoundTripper: http.DefaultTransport}
	cfg := DefaultConfig("https://www.example.com", "ua")
	cfg.HTTPClient = &http.Client{Transport: rt}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !rt.closed {
		t.Error("Close() did not close idle connections")
	}
}

func TestCall_Success(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()

	var got testutil.RPCCall
	site.HandleRPC("News.get", func(call testutil.RPCCall) (any, error) {
		got = call
		return map[string]any{"title": "Hello"}, nil
	})

	c, _ := newTestClient(t, site, nil)

	var out struct {
		Title string `json:"title"`
	}
	err := c.Call(context.Background(), "News.get", transport.Params{{Key: "id", Value: 7}}, &out)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.Title != "Hello" {
		t.Errorf("Title = %q, want Hello", out.Title)
	}
	if got.Params["id"] != float64(7) {
		t.Errorf("params id = %v, want 7", got.Params["id"])
	}
	if got.ID == "" {
		t.Error("expected a correlation id")
	}
	if ua := site.LastHeader().Get("User-Agent"); ua != "sitebackup-test/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestCall_InjectsCredentials(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()

	var sessions, keys []any
	site.HandleRPC("Me.get", func(call testutil.RPCCall) (any, error) {
		sessions = append(sessions, call.Params["session_id"])
		keys = append(keys, call.Params["api_key"])
		return nil, nil
	})

	c, _ := newTestClient(t, site, func(cfg *Config) {
		cfg.SessionID = "abc"
		cfg.APIKey = "k1"
	})

	if err := c.Call(context.Background(), "Me.get", nil, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if err := c.Call(context.Background(), "Me.get", transport.Params{{Key: "session_id", Value: "explicit"}}, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if len(sessions) != 2 || sessions[0] != "abc" || sessions[1] != "explicit" {
		t.Errorf("session ids = %v, want [abc explicit]", sessions)
	}
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k1" {
		t.Errorf("api keys = %v, want [k1 k1]", keys)
	}
}

func TestCall_RemoteErrorNotRetried(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()

	site.HandleRPC("File.get", func(testutil.RPCCall) (any, error) {
		return nil, &testutil.RPCFault{Code: 14, Message: "no such file"}
	})

	c, s := newTestClient(t, site, nil)

	err := c.Call(context.Background(), "File.get", nil, nil)
	if !IsRemote(err) {
		t.Fatalf("expected remote error, got %v", err)
	}
	var rpcErr *transport.RPCError
	errors.As(err, &rpcErr)
	if rpcErr.Code != 14 || rpcErr.Method != "File.get" || rpcErr.ID == "" {
		t.Errorf("unexpected remote error: %+v", rpcErr)
	}
	if site.Calls("File.get") != 1 {
		t.Errorf("calls = %d, want 1", site.Calls("File.get"))
	}
	if len(s.delays) != 0 {
		t.Errorf("sleeps = %d, want 0", len(s.delays))
	}
}

func TestCall_RetriesTransientWithSameID(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()

	site.HandleRPC("News.list", func(testutil.RPCCall) (any, error) {
		return []string{"a"}, nil
	})
	site.FailNext("News.list", http.StatusTooManyRequests, StatusUpstreamTimeout)

	c, s := newTestClient(t, site, nil)

	out, err := CallResult[[]string](context.Background(), c, "News.list", nil)
	if err != nil {
		t.Fatalf("CallResult() error = %v", err)
	}
	if len(out) != 1 || out[0] != "a" {
		t.Errorf("result = %v", out)
	}
	if site.Calls("News.list") != 3 {
		t.Errorf("calls = %d, want 3", site.Calls("News.list"))
	}
	if len(s.delays) != 2 {
		t.Errorf("sleeps = %d, want 2", len(s.delays))
	}

	ids := site.IDs()
	for _, id := range ids {
		if id != ids[0] {
			t.Errorf("retries used different ids: %v", ids)
			break
		}
	}
}

func TestCall_DistinctIDsPerCall(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()
	site.HandleRPC("Ping", func(testutil.RPCCall) (any, error) { return "pong", nil })

	c, _ := newTestClient(t, site, nil)
	for i := 0; i < 3; i++ {
		if err := c.Call(context.Background(), "Ping", nil, nil); err != nil {
			t.Fatalf("Call() error = %v", err)
		}
	}

	seen := map[string]bool{}
	for _, id := range site.IDs() {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestCall_Exhausted(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()

	site.HandleRPC("News.list", func(testutil.RPCCall) (any, error) { return nil, nil })
	site.FailNext("News.list", 429, 429, 429, 429, 429)

	c, s := newTestClient(t, site, nil)

	err := c.Call(context.Background(), "News.list", nil, nil)
	if !IsUnrecoverable(err) || !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if site.Calls("News.list") != 4 {
		t.Errorf("calls = %d, want 4", site.Calls("News.list"))
	}
	if len(s.delays) != 3 {
		t.Errorf("sleeps = %d, want 3", len(s.delays))
	}
}

func TestFetch_Forbidden(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()
	site.HandlePage("/members/secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	c, s := newTestClient(t, site, nil)

	_, err := c.Fetch(context.Background(), transport.RequestSpec{Path: "/members/secret"}, transport.GET)
	if !Forbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if site.Calls("/members/secret") != 1 {
		t.Errorf("calls = %d, want 1", site.Calls("/members/secret"))
	}
	if len(s.delays) != 0 {
		t.Errorf("sleeps = %d, want 0", len(s.delays))
	}
}

func TestFetch_PostsForm(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()

	var form string
	site.HandlePage("/search", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm.Get("q")
		fmt.Fprint(w, "ok")
	})

	c, _ := newTestClient(t, site, nil)

	resp, err := c.Fetch(context.Background(), transport.RequestSpec{
		Path:   "/search",
		Params: transport.Params{{Key: "q", Value: "golang"}},
	}, transport.POST)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q, want ok", resp.Body)
	}
	if form != "golang" {
		t.Errorf("form q = %q, want golang", form)
	}
}

func TestFetch_Throttled(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()
	site.HandlePage("/p", func(w http.ResponseWriter, r *http.Request) {})

	c, _ := newTestClient(t, site, func(cfg *Config) { cfg.ThrottleSpacing = 20 * time.Millisecond })

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), transport.RequestSpec{Path: "/p"}, transport.GET); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 throttled fetches took %v, want >= 40ms", elapsed)
	}
}

func TestFetchHTML(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()
	site.HandlePage("/gallery", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a class="img" href="/a.jpg">A</a><a class="img" href="/b.jpg">B</a></body></html>`)
	})

	c, _ := newTestClient(t, site, nil)

	doc, err := c.FetchHTML(context.Background(), transport.RequestSpec{Path: "/gallery"})
	if err != nil {
		t.Fatalf("FetchHTML() error = %v", err)
	}
	if n := doc.Find("a.img").Length(); n != 2 {
		t.Errorf("found %d links, want 2", n)
	}
	if href, _ := doc.Find("a.img").First().Attr("href"); href != "/a.jpg" {
		t.Errorf("first href = %q", href)
	}
}

func TestSessionCookie(t *testing.T) {
	tests := []struct {
		name    string
		session string
		csrf    string
		order   CookieOrder
		want    string
	}{
		{"session first", "s1", "c1", SessionFirst, "PHPSESSID=s1; csrf_token=c1"},
		{"csrf first", "s1", "c1", CSRFFirst, "csrf_token=c1; PHPSESSID=s1"},
		{"session only", "s1", "", CSRFFirst, "PHPSESSID=s1"},
		{"csrf only", "", "c1", SessionFirst, "csrf_token=c1"},
		{"none", "", "", SessionFirst, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("https://www.example.com", "ua")
			cfg.SessionID = tt.session
			cfg.CSRFToken = tt.csrf
			c, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := c.SessionCookie(tt.order); got != tt.want {
				t.Errorf("SessionCookie() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithSession_SendsCookie(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()
	site.HandlePage("/download", func(w http.ResponseWriter, r *http.Request) {})

	c, _ := newTestClient(t, site, func(cfg *Config) {
		cfg.SessionID = "s1"
		cfg.CSRFToken = "c1"
	})

	spec := c.WithSession(transport.RequestSpec{Path: "/download"}, CSRFFirst)
	if _, err := c.Fetch(context.Background(), spec, transport.GET); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := site.LastHeader().Get("Cookie"); got != "csrf_token=c1; PHPSESSID=s1" {
		t.Errorf("Cookie = %q", got)
	}
}

func TestCall_SendsSessionCookie(t *testing.T) {
	site := testutil.NewMockSite("/api")
	defer site.Close()
	site.HandleRPC("Me.get", func(testutil.RPCCall) (any, error) { return nil, nil })

	c, _ := newTestClient(t, site, func(cfg *Config) {
		cfg.SessionID = "s1"
		cfg.CSRFToken = "c1"
		cfg.CookieOrder = CSRFFirst
	})
	if err := c.Call(context.Background(), "Me.get", nil, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := site.LastHeader().Get("Cookie"); got != "csrf_token=c1; PHPSESSID=s1" {
		t.Errorf("Cookie = %q", got)
	}
}

func TestParseCookieOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    CookieOrder
		wantErr bool
	}{
		{"", SessionFirst, false},
		{"session_first", SessionFirst, false},
		{"csrf_first", CSRFFirst, false},
		{"random", SessionFirst, true},
	}
	for _, tt := range tests {
		got, err := ParseCookieOrder(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCookieOrder(%q) = %v, %v", tt.in, got, err)
		}
	}
}
