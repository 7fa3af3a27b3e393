package uow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrNotMapped is returned for values that are not pointers to structs
	ErrNotMapped = errors.New("entity must be a non-nil pointer to a struct")

	// ErrNoPrimaryKey is returned when an update or delete targets an entity without a key
	ErrNoPrimaryKey = errors.New("entity has no primary key")
)

// Tabler lets an entity override its table name
type Tabler interface {
	TableName() string
}

// Column describes one mapped struct field
type Column struct {
	// Name is the database column name
	Name string

	// Field is the Go field name
	Field string

	PrimaryKey bool

	// Auto marks a database-assigned value that is omitted from inserts
	Auto bool

	index []int
}

// Mapping is the table layout derived from an entity type
type Mapping struct {
	Type    reflect.Type
	Table   string
	Columns []Column

	key int // index into Columns, -1 when absent
}

// Property is a field name with its current value
type Property struct {
	Name   string
	Column string
	Value  any
}

var mappings sync.Map // reflect.Type -> *Mapping

// MappingOf returns the cached mapping for a struct type
func MappingOf(t reflect.Type) (*Mapping, error) {
	if t == nil {
		return nil, ErrNotMapped
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %s", ErrNotMapped, t)
	}

	if m, ok := mappings.Load(t); ok {
		return m.(*Mapping), nil
	}

	m := buildMapping(t)
	actual, _ := mappings.LoadOrStore(t, m)
	return actual.(*Mapping), nil
}

func buildMapping(t reflect.Type) *Mapping {
	m := &Mapping{
		Type:  t,
		Table: tableName(t),
		key:   -1,
	}

	fallbackKey := -1
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}

		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}

		col := Column{
			Name:  toSnakeCase(f.Name),
			Field: f.Name,
			index: f.Index,
		}

		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				col.Name = parts[0]
			}
			for _, opt := range parts[1:] {
				switch strings.TrimSpace(opt) {
				case "pk":
					col.PrimaryKey = true
				case "auto":
					col.Auto = true
				}
			}
		}

		m.Columns = append(m.Columns, col)
		idx := len(m.Columns) - 1

		if col.PrimaryKey && m.key < 0 {
			m.key = idx
		}
		if fallbackKey < 0 && (f.Name == "ID" || f.Name == "Id") {
			fallbackKey = idx
		}
	}

	if m.key < 0 && fallbackKey >= 0 {
		m.key = fallbackKey
		m.Columns[fallbackKey].PrimaryKey = true
	}

	return m
}

// Key returns the primary key column
func (m *Mapping) Key() (Column, bool) {
	if m.key < 0 {
		return Column{}, false
	}
	return m.Columns[m.key], true
}

// values reads every mapped column from a struct value
func (m *Mapping) values(v reflect.Value) []any {
	out := make([]any, len(m.Columns))
	for i, col := range m.Columns {
		out[i] = fieldValue(v, col.index)
	}
	return out
}

func fieldValue(v reflect.Value, index []int) any {
	f, err := v.FieldByIndexErr(index)
	if err != nil {
		// nil embedded pointer
		return nil
	}
	return f.Interface()
}

func tableName(t reflect.Type) string {
	if tabler, ok := reflect.New(t).Interface().(Tabler); ok {
		return tabler.TableName()
	}
	if tabler, ok := reflect.Zero(t).Interface().(Tabler); ok {
		return tabler.TableName()
	}
	return pluralize(toSnakeCase(t.Name()))
}

func pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

// toSnakeCase converts CustomerNumber to customer_number and EntityID to entity_id
func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
