package uow

import (
	"bytes"
	"reflect"
)

// Entry is the tracking record for one entity instance in a session
type Entry struct {
	entity  any
	value   reflect.Value
	mapping *Mapping
	state   EntityState

	// snapshot holds column values as of the last attach or commit
	snapshot []any
}

func newEntry(entity any, state EntityState) (*Entry, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, ErrNotMapped
	}

	m, err := MappingOf(v.Type())
	if err != nil {
		return nil, err
	}

	e := &Entry{
		entity:  entity,
		value:   v.Elem(),
		mapping: m,
		state:   state,
	}
	e.takeSnapshot()
	return e, nil
}

// Entity returns the tracked pointer
func (e *Entry) Entity() any {
	return e.entity
}

// Type returns the entity's struct type
func (e *Entry) Type() reflect.Type {
	return e.mapping.Type
}

// State returns the current lifecycle state
func (e *Entry) State() EntityState {
	return e.state
}

// Mapping returns the table mapping for the entity type
func (e *Entry) Mapping() *Mapping {
	return e.mapping
}

// Properties returns every mapped field with its current value, in declaration order
func (e *Entry) Properties() []Property {
	props := make([]Property, len(e.mapping.Columns))
	for i, col := range e.mapping.Columns {
		props[i] = Property{
			Name:   col.Field,
			Column: col.Name,
			Value:  fieldValue(e.value, col.index),
		}
	}
	return props
}

// PrimaryKey returns the current key value. An auto key that has not been
// assigned yet is reported as unavailable.
func (e *Entry) PrimaryKey() (any, bool) {
	col, ok := e.mapping.Key()
	if !ok {
		return nil, false
	}

	f, err := e.value.FieldByIndexErr(col.index)
	if err != nil {
		return nil, false
	}
	if col.Auto && f.IsZero() {
		return nil, false
	}
	return f.Interface(), true
}

// ModifiedProperties returns the fields whose value differs from the snapshot
func (e *Entry) ModifiedProperties() []string {
	current := e.mapping.values(e.value)
	var names []string
	for i, col := range e.mapping.Columns {
		if !reflect.DeepEqual(current[i], e.snapshot[i]) {
			names = append(names, col.Field)
		}
	}
	return names
}

func (e *Entry) takeSnapshot() {
	e.snapshot = e.mapping.values(e.value)
	for i, v := range e.snapshot {
		e.snapshot[i] = snapshotValue(v)
	}
}

// snapshotValue copies slices, maps and pointers so in-place edits of the
// live entity show up as drift
func snapshotValue(v any) any {
	if b, ok := v.([]byte); ok {
		return bytes.Clone(b)
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return v
	}
	return cloneValue(rv).Interface()
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			c.Index(i).Set(cloneValue(v.Index(i)))
		}
		return c
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		c := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			c.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return c
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		c := reflect.New(v.Type().Elem())
		c.Elem().Set(cloneValue(v.Elem()))
		return c
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		c := reflect.New(v.Type()).Elem()
		c.Set(cloneValue(v.Elem()))
		return c
	default:
		return v
	}
}

// detectChanges promotes Unchanged entries whose values drifted from the snapshot
func (e *Entry) detectChanges() {
	if e.state != Unchanged {
		return
	}
	if len(e.ModifiedProperties()) > 0 {
		e.state = Modified
	}
}

func (e *Entry) setKey(id int64) {
	col, ok := e.mapping.Key()
	if !ok {
		return
	}
	f, err := e.value.FieldByIndexErr(col.index)
	if err != nil || !f.CanSet() {
		return
	}

	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt(id)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f.SetUint(uint64(id))
	}
}

// keyDest returns a scan destination for a RETURNING key
func (e *Entry) keyDest() any {
	col, ok := e.mapping.Key()
	if !ok {
		return nil
	}
	f, err := e.value.FieldByIndexErr(col.index)
	if err != nil || !f.CanAddr() {
		return nil
	}
	return f.Addr().Interface()
}
