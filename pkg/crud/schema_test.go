package crud

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tagged struct {
	Code  string `json:"code" db:"code_col" crud:"pk"`
	Title string `json:"title"`
	Skip  string `json:"-"`
	inner int
}

type implicit struct {
	ID   uint32 `json:"id"`
	Name string
}

type noKey struct {
	Name string `json:"name"`
}

type twoKeys struct {
	A int `crud:"pk"`
	B int `crud:"pk"`
}

type floatKey struct {
	ID float64 `json:"id"`
}

type Audit struct {
	CreatedAt time.Time `json:"created_at"`
}

type embedded struct {
	ID int `json:"id" crud:"pk,auto"`
	Audit
	Note string `json:"note" bson:"n"`
}

func TestResolvePrimaryKey(t *testing.T) {
	tests := []struct {
		name     string
		typ      reflect.Type
		wantName string
		wantKind KeyKind
		wantAuto bool
		wantErr  bool
	}{
		{"tagged string key", reflect.TypeFor[tagged](), "Code", KeyString, false, false},
		{"implicit id", reflect.TypeFor[implicit](), "ID", KeyUint, true, false},
		{"pointer type", reflect.TypeFor[*implicit](), "ID", KeyUint, true, false},
		{"tagged auto", reflect.TypeFor[embedded](), "ID", KeyInt, true, false},
		{"no key", reflect.TypeFor[noKey](), "", 0, false, true},
		{"composite", reflect.TypeFor[twoKeys](), "", 0, false, true},
		{"unsupported type", reflect.TypeFor[floatKey](), "", 0, false, true},
		{"not a struct", reflect.TypeFor[int](), "", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ResolvePrimaryKey(tt.typ)
			if tt.wantErr {
				var serr *SchemaError
				assert.ErrorAs(t, err, &serr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, key.Name)
			assert.Equal(t, tt.wantKind, key.Kind)
			assert.Equal(t, tt.wantAuto, key.Auto)
		})
	}
}

func TestSchemaFields(t *testing.T) {
	s, err := NewSchema[tagged]()
	require.NoError(t, err)
	assert.Equal(t, "tagged", s.Name)
	assert.Equal(t, []string{"code_col", "title"}, s.Columns())

	_, ok := s.Field("Skip")
	assert.False(t, ok)

	e, err := NewSchema[embedded]("entries")
	require.NoError(t, err)
	assert.Equal(t, "entries", e.Name)
	require.Len(t, e.Fields, 3)
	assert.Equal(t, "created_at", e.Fields[1].JSON)
	assert.Equal(t, []int{1, 0}, e.Fields[1].Index)
	assert.Equal(t, "createdat", e.Fields[1].BSON)
	assert.Equal(t, "n", e.Fields[2].BSON)
	assert.True(t, e.IsKey(e.Fields[0]))
	assert.False(t, e.IsKey(e.Fields[2]))
}

func TestMustSchemaPanics(t *testing.T) {
	assert.Panics(t, func() { MustSchema[noKey]() })
}

func TestPrimaryKeyParse(t *testing.T) {
	intKey, err := ResolvePrimaryKey(reflect.TypeFor[embedded]())
	require.NoError(t, err)

	v, err := intKey.Parse("42")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = intKey.Parse("abc")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	uintKey, err := ResolvePrimaryKey(reflect.TypeFor[implicit]())
	require.NoError(t, err)
	v, err = uintKey.Parse("7")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
	_, err = uintKey.Parse("-1")
	assert.Error(t, err)
	_, err = uintKey.Parse("4294967296")
	assert.Error(t, err, "overflows uint32")

	strKey, err := ResolvePrimaryKey(reflect.TypeFor[tagged]())
	require.NoError(t, err)
	v, err = strKey.Parse("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	_, err = strKey.Parse("")
	assert.Error(t, err)
}

func TestPrimaryKeyNormalize(t *testing.T) {
	key, err := ResolvePrimaryKey(reflect.TypeFor[embedded]())
	require.NoError(t, err)

	for _, in := range []any{int64(3), int32(3), uint8(3), 3} {
		v, err := key.Normalize(in)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	}
	_, err = key.Normalize("3")
	assert.Error(t, err)
	_, err = key.Normalize(nil)
	assert.Error(t, err)
}

func TestSchemaKeyAccessors(t *testing.T) {
	s := MustSchema[embedded]()
	var e embedded
	assert.False(t, s.HasKey(e))

	require.NoError(t, s.SetKey(&e, int64(9)))
	assert.Equal(t, 9, e.ID)
	assert.True(t, s.HasKey(e))
	assert.Equal(t, 9, s.KeyOf(e))

	*(s.KeyPointer(&e).(*int)) = 11
	assert.Equal(t, 11, e.ID)

	s.ClearKey(&e)
	assert.Zero(t, e.ID)
	assert.Error(t, s.SetKey(&e, "x"))
}

func TestSchemaValuesAndPointers(t *testing.T) {
	s := MustSchema[tagged]()
	e := tagged{Code: "c", Title: "t"}
	assert.Equal(t, []any{"c", "t"}, s.Values(e))

	var out tagged
	ptrs := s.Pointers(&out)
	*(ptrs[1].(*string)) = "title"
	assert.Equal(t, "title", out.Title)
}

func TestSchemaApply(t *testing.T) {
	s := MustSchema[embedded]()
	e := embedded{ID: 1, Note: "old"}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Apply(&e, Patch{"note": "new", "id": 5, "created_at": ts}))
	assert.Equal(t, 1, e.ID, "key is never patched")
	assert.Equal(t, "new", e.Note)
	assert.Equal(t, ts, e.CreatedAt)

	require.NoError(t, s.Apply(&e, Patch{"created_at": "2025-01-02T03:04:05Z"}))
	assert.Equal(t, 2025, e.CreatedAt.Year())

	err := s.Apply(&e, Patch{"unknown": 1})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, s.Apply(&e, nil))
	assert.Equal(t, "new", e.Note)
}

func TestSchemaApplyWeakTypes(t *testing.T) {
	type sample struct {
		ID    int     `json:"id"`
		Count int     `json:"count"`
		Score float64 `json:"score"`
	}
	s := MustSchema[sample]()
	e := sample{ID: 1}
	require.NoError(t, s.Apply(&e, Patch{"count": float64(4), "score": 2}))
	assert.Equal(t, 4, e.Count)
	assert.Equal(t, 2.0, e.Score)
}
