package uow

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        int64  `db:"id,pk,auto"`
	SerialNo  string `db:"serial_no"`
	Label     string
	Internal  string `db:"-"`
	unexposed string
}

type person struct {
	Id       int
	FullName string
}

type category struct {
	Code string `db:"code,pk"`
}

type box struct {
	Name string
}

func (box) TableName() string { return "storage_boxes" }

func TestMappingOf(t *testing.T) {
	m, err := MappingOf(reflect.TypeOf(&widget{}))
	require.NoError(t, err)

	assert.Equal(t, "widgets", m.Table)
	require.Len(t, m.Columns, 3)
	assert.Equal(t, "id", m.Columns[0].Name)
	assert.True(t, m.Columns[0].PrimaryKey)
	assert.True(t, m.Columns[0].Auto)
	assert.Equal(t, "serial_no", m.Columns[1].Name)
	assert.Equal(t, "SerialNo", m.Columns[1].Field)
	assert.Equal(t, "label", m.Columns[2].Name)

	key, ok := m.Key()
	require.True(t, ok)
	assert.Equal(t, "ID", key.Field)
}

func TestMappingOf_Cached(t *testing.T) {
	a, err := MappingOf(reflect.TypeOf(widget{}))
	require.NoError(t, err)
	b, err := MappingOf(reflect.TypeOf(&widget{}))
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestMappingOf_FallbackKey(t *testing.T) {
	m, err := MappingOf(reflect.TypeOf(person{}))
	require.NoError(t, err)

	key, ok := m.Key()
	require.True(t, ok)
	assert.Equal(t, "Id", key.Field)
	assert.False(t, key.Auto)
	assert.Equal(t, "persons", m.Table)
}

func TestMappingOf_NoKey(t *testing.T) {
	m, err := MappingOf(reflect.TypeOf(box{}))
	require.NoError(t, err)

	_, ok := m.Key()
	assert.False(t, ok)
	assert.Equal(t, "storage_boxes", m.Table)
}

func TestMappingOf_TaggedKey(t *testing.T) {
	m, err := MappingOf(reflect.TypeOf(category{}))
	require.NoError(t, err)
	assert.Equal(t, "categories", m.Table)

	key, ok := m.Key()
	require.True(t, ok)
	assert.Equal(t, "code", key.Name)
}

func TestMappingOf_NotStruct(t *testing.T) {
	_, err := MappingOf(reflect.TypeOf(42))
	assert.ErrorIs(t, err, ErrNotMapped)

	_, err = MappingOf(nil)
	assert.ErrorIs(t, err, ErrNotMapped)
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CustomerNumber", "customer_number"},
		{"EntityID", "entity_id"},
		{"ID", "id"},
		{"HTTPServer", "http_server"},
		{"Address2Line", "address2_line"},
		{"name", "name"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, toSnakeCase(tt.in))
		})
	}
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "customers", pluralize("customer"))
	assert.Equal(t, "addresses", pluralize("address"))
	assert.Equal(t, "categories", pluralize("category"))
	assert.Equal(t, "keys", pluralize("key"))
	assert.Equal(t, "boxes", pluralize("box"))
}
