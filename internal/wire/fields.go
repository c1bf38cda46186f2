package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// fields is a decoded JSON object with case-folded keys, so that "userName",
// "UserName" and "username" all resolve to the same entry.
type fields map[string]any

func decodeFields(raw json.RawMessage) (fields, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("payload is null")
	}
	return foldKeys(m), nil
}

func foldKeys(m map[string]any) fields {
	out := make(fields, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// lookup resolves a dotted path such as "userinfo.username".
func (f fields) lookup(path string) (any, bool) {
	head, rest, nested := strings.Cut(strings.ToLower(path), ".")
	v, ok := f[head]
	if !ok || v == nil {
		return nil, false
	}
	if !nested {
		return v, true
	}
	child, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return foldKeys(child).lookup(rest)
}

// str returns the first non-empty string found under any of the aliases.
func (f fields) str(aliases ...string) string {
	for _, a := range aliases {
		v, ok := f.lookup(a)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func (f fields) boolean(aliases ...string) bool {
	for _, a := range aliases {
		v, ok := f.lookup(a)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			b, err := strconv.ParseBool(t)
			if err == nil {
				return b
			}
		}
	}
	return false
}

func (f fields) timestamp(aliases ...string) time.Time {
	for _, a := range aliases {
		v, ok := f.lookup(a)
		if !ok {
			continue
		}
		if ts, ok := parseTime(v); ok {
			return ts
		}
	}
	return time.Time{}
}

func (f fields) list(aliases ...string) []any {
	for _, a := range aliases {
		v, ok := f.lookup(a)
		if !ok {
			continue
		}
		if l, ok := v.([]any); ok {
			return l
		}
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// parseTime accepts epoch milliseconds or an ISO-8601 string. Strings
// without a zone are taken as UTC.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || t <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(t)).UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
