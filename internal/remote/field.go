package remote

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field is a value read from a remote field map that may be absent.
// A field stored as JSON null reads as absent.
type Field[T any] struct {
	Value   T
	Present bool
}

// Some returns a present field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}

// Get returns the value and whether it was present.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Present
}

// Or returns the value, or def when absent.
func (f Field[T]) Or(def T) T {
	if !f.Present {
		return def
	}
	return f.Value
}

// Fields is the field map of a remote record.
// Values are whatever the transport produced: Go values for in-process
// services, float64/string/bool after a JSON round trip.
type Fields map[string]any

// Has reports whether key holds a non-null value.
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

// String reads key as a string. Non-string values read as absent.
func (f Fields) String(key string) Field[string] {
	switch v := f[key].(type) {
	case string:
		return Some(v)
	case *string:
		if v != nil {
			return Some(*v)
		}
	}
	return Field[string]{}
}

// Int reads key as an integer. Integral floats within int64 range and
// numeric strings are accepted; anything else reads as absent.
func (f Fields) Int(key string) Field[int] {
	switch v := f[key].(type) {
	case int:
		return Some(v)
	case int32:
		return Some(int(v))
	case int64:
		return Some(int(v))
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, hence the strict bound.
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return Some(int(v))
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return Some(int(n))
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return Some(n)
		}
	}
	return Field[int]{}
}

// Bool reads key as a boolean. Numeric 0/1 and "true"/"false" strings are
// accepted.
func (f Fields) Bool(key string) Field[bool] {
	switch v := f[key].(type) {
	case bool:
		return Some(v)
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return Some(b)
		}
		return Field[bool]{}
	}
	if n := f.Int(key); n.Present {
		return Some(n.Value != 0)
	}
	return Field[bool]{}
}

// Time reads key as a timestamp. RFC 3339 strings and time.Time values
// are accepted.
func (f Fields) Time(key string) Field[time.Time] {
	switch v := f[key].(type) {
	case time.Time:
		return Some(v)
	case *time.Time:
		if v != nil {
			return Some(*v)
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return Some(t)
		}
	}
	return Field[time.Time]{}
}

// Clone returns a shallow copy of the map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Normalize returns the fields as they look after a JSON round trip, so
// that payloads from different transports compare equal.
func (f Fields) Normalize() (Fields, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
