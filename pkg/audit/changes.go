package audit

import (
	"bytes"
	"database/sql/driver"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Change is one field name with its recorded value
type Change struct {
	Field string
	Value any
}

// Changes is an ordered field-name to value mapping.
//
// Values are normalized when set so that they survive a JSON round trip:
// integers become int64, floats become float64, strings, bools and nil are
// kept, and anything else is stored as text.
type Changes []Change

// Set adds or replaces a field, keeping its original position
func (c *Changes) Set(field string, value any) {
	value = normalizeValue(value)
	for i := range *c {
		if (*c)[i].Field == field {
			(*c)[i].Value = value
			return
		}
	}
	*c = append(*c, Change{Field: field, Value: value})
}

// Get returns the value recorded for a field
func (c Changes) Get(field string) (any, bool) {
	for _, ch := range c {
		if ch.Field == field {
			return ch.Value, true
		}
	}
	return nil, false
}

// Keys returns field names in order
func (c Changes) Keys() []string {
	keys := make([]string, len(c))
	for i, ch := range c {
		keys[i] = ch.Field
	}
	return keys
}

// Len returns the number of fields
func (c Changes) Len() int {
	return len(c)
}

// Map returns an unordered copy
func (c Changes) Map() map[string]any {
	m := make(map[string]any, len(c))
	for _, ch := range c {
		m[ch.Field] = ch.Value
	}
	return m
}

// MarshalJSON encodes the changes as a JSON object in field order
func (c Changes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ch.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := encodeValue(normalizeValue(ch.Value))
		if err != nil {
			return nil, fmt.Errorf("failed to encode change %q: %w", ch.Field, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order
func (c *Changes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to decode changes: %w", err)
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("failed to decode changes: expected object, got %v", tok)
	}

	out := Changes{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to decode changes: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("failed to decode changes: unexpected key %v", keyTok)
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode change %q: %w", key, err)
		}
		out = append(out, Change{Field: key, Value: fromJSON(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to decode changes: %w", err)
	}

	*c = out
	return nil
}

// Value implements driver.Valuer
func (c Changes) Value() (driver.Value, error) {
	data, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (c *Changes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = Changes{}
		return nil
	case []byte:
		return c.UnmarshalJSON(v)
	case string:
		return c.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Changes", src)
	}
}

// encodeValue writes floats with a fraction or exponent so they decode as
// float64 rather than int64
func encodeValue(v any) ([]byte, error) {
	f, ok := v.(float64)
	if !ok {
		return json.Marshal(v)
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".e") {
		text += ".0"
	}
	return []byte(text), nil
}

// fromJSON converts decoded numbers back to int64 when integral
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = fromJSON(x[k])
		}
		return x
	default:
		return v
	}
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64:
		return x
	case float64:
		return normalizeFloat(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return normalizeUint(uint64(x))
	case uint64:
		return normalizeUint(x)
	case float32:
		return normalizeFloat(float64(x))
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}

	switch x := v.(type) {
	case encoding.TextMarshaler:
		if text, err := x.MarshalText(); err == nil {
			return string(text)
		}
	case driver.Valuer:
		if dv, err := x.Value(); err == nil {
			if _, again := dv.(driver.Valuer); !again {
				return normalizeValue(dv)
			}
		}
	case fmt.Stringer:
		return x.String()
	}

	switch rv.Kind() {
	case reflect.Pointer:
		return normalizeValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	}

	return fmt.Sprint(v)
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

// normalizeFloat keeps values JSON can represent
func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
