package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Redacted replaces sensitive values in dumps.
const Redacted = "[REDACTED]"

// DefaultRedactKeys are parameter names never written to dumps.
var DefaultRedactKeys = []string{"password", "session_id", "api_key"}

var redactHeaders = []string{"Cookie", "Authorization", "X-Csrf-Token"}

var slugPattern = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Dumper writes one JSON file per exchange. Redaction happens on a copy, the
// request on the wire is untouched.
type Dumper struct {
	dir    string
	redact map[string]struct{}
	seq    atomic.Uint64
	logger zerolog.Logger
}

// NewDumper creates a Dumper writing below dir. Extra keys are redacted in
// addition to DefaultRedactKeys.
func NewDumper(dir string, logger zerolog.Logger, extra ...string) *Dumper {
	d := &Dumper{
		dir:    dir,
		redact: make(map[string]struct{}),
		logger: logger,
	}
	for _, k := range DefaultRedactKeys {
		d.redact[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range extra {
		d.redact[strings.ToLower(k)] = struct{}{}
	}
	return d
}

type dumpRecord struct {
	Request  dumpRequest  `json:"request"`
	Response dumpResponse `json:"response"`
}

type dumpRequest struct {
	Verb   string      `json:"verb"`
	URL    string      `json:"url"`
	Method string      `json:"method,omitempty"`
	ID     string      `json:"id,omitempty"`
	Params Params      `json:"params"`
	Header http.Header `json:"headers"`
}

type dumpResponse struct {
	Status int             `json:"status"`
	Header http.Header     `json:"headers"`
	Body   json.RawMessage `json:"body,omitempty"`
	Text   string          `json:"text,omitempty"`
}

// Path returns the file a dump for the given endpoint and id is written to.
func (d *Dumper) Path(endpoint, id string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(endpoint, "_"), "_")
	if slug == "" {
		slug = "root"
	}
	return filepath.Join(d.dir, slug, id+".json")
}

// Dump writes the exchange. A retried call reuses its id; its later attempts
// go to "<id>-2.json", "<id>-3.json" and so on. Failures are logged and
// otherwise ignored.
func (d *Dumper) Dump(spec RequestSpec, verb, id string, header http.Header, resp *Response) {
	if id == "" {
		id = fmt.Sprintf("req-%07d", d.seq.Add(1))
	}

	rec := dumpRecord{
		Request: dumpRequest{
			Verb:   verb,
			URL:    spec.URL(),
			Method: spec.Method,
			ID:     id,
			Params: d.RedactParams(spec.Params),
			Header: d.redactHeader(header),
		},
		Response: dumpResponse{
			Status: resp.Status,
			Header: resp.Header,
		},
	}
	if json.Valid(resp.Body) {
		rec.Response.Body = resp.Body
	} else {
		rec.Response.Text = string(resp.Body)
	}

	path, err := d.write(spec.Endpoint(), id, rec)
	if err != nil {
		d.logger.Warn().Err(err).Str("path", path).Msg("Failed to write debug dump")
		return
	}
	d.logger.Debug().Str("path", path).Msg("Wrote debug dump")
}

func (d *Dumper) write(endpoint, id string, rec dumpRecord) (string, error) {
	path := d.Path(endpoint, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return path, err
	}

	for attempt := 2; ; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			path = d.Path(endpoint, fmt.Sprintf("%s-%d", id, attempt))
			continue
		}
		if err != nil {
			return path, err
		}
		_, err = f.Write(data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		return path, err
	}
}

// RedactParams returns a copy of p with sensitive values replaced. Nested
// Params are redacted recursively.
func (d *Dumper) RedactParams(p Params) Params {
	out := make(Params, len(p))
	for i, kv := range p {
		switch {
		case d.sensitive(kv.Key):
			out[i] = Param{Key: kv.Key, Value: Redacted}
		default:
			if nested, ok := kv.Value.(Params); ok {
				out[i] = Param{Key: kv.Key, Value: d.RedactParams(nested)}
			} else {
				out[i] = kv
			}
		}
	}
	return out
}

func (d *Dumper) sensitive(key string) bool {
	_, ok := d.redact[strings.ToLower(key)]
	return ok
}

func (d *Dumper) redactHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range redactHeaders {
		if out.Get(name) != "" {
			out.Set(name, Redacted)
		}
	}
	return out
}
