package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Param is a single request parameter. Value may be a string, a number, a
// bool or a list of those.
type Param struct {
	Key   string
	Value any
}

// Params is an ordered parameter list. Order is preserved on the wire, both in
// JSON bodies and in form/query encoding.
type Params []Param

// With returns a copy of p with key set to value. An existing key keeps its
// position.
func (p Params) With(key string, value any) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Param{Key: key, Value: value})
}

// Get returns the value stored under key.
func (p Params) Get(key string) (any, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the parameters as a JSON object in insertion order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal param %q: %w", kv.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode renders the parameters as an application/x-www-form-urlencoded
// string. Lists become repeated "key[]" entries.
func (p Params) Encode() string {
	var buf bytes.Buffer
	write := func(key, value string) {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(key))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(value))
	}
	for _, kv := range p {
		if list, ok := listValues(kv.Value); ok {
			for _, v := range list {
				write(kv.Key+"[]", v)
			}
			continue
		}
		write(kv.Key, formatValue(kv.Value))
	}
	return buf.String()
}

func listValues(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []int:
		out := make([]string, len(list))
		for i, n := range list {
			out[i] = strconv.Itoa(n)
		}
		return out, true
	case []int64:
		out := make([]string, len(list))
		for i, n := range list {
			out[i] = strconv.FormatInt(n, 10)
		}
		return out, true
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			out[i] = formatValue(item)
		}
		return out, true
	default:
		return nil, false
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
