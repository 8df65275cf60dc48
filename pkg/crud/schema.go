package crud

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// tag options: `crud:"pk"` marks the primary key, `crud:"pk,auto"` one assigned by the backend.
const tagName = "crud"

// KeyKind classifies the Go type of a primary key.
type KeyKind int

const (
	KeyInt KeyKind = iota + 1
	KeyUint
	KeyString
)

func (k KeyKind) String() string {
	switch k {
	case KeyInt:
		return "int"
	case KeyUint:
		return "uint"
	case KeyString:
		return "string"
	}
	return "unknown"
}

// Field describes one exported struct field and its names in each storage dialect.
type Field struct {
	Name   string // Go field name
	Index  []int
	Type   reflect.Type
	JSON   string
	Column string // `db` tag, else the lower-cased JSON name
	BSON   string // `bson` tag, else the lower-cased Go name (driver default)
	opts   []string
}

// PrimaryKey is the resolved key field of a schema.
type PrimaryKey struct {
	Field
	Kind KeyKind
	Auto bool
}

// Parse converts a raw path segment into the key's Go type.
func (k PrimaryKey) Parse(raw string) (any, error) {
	v := reflect.New(k.Type).Elem()
	switch k.Kind {
	case KeyInt:
		n, err := strconv.ParseInt(raw, 10, k.Type.Bits())
		if err != nil {
			return nil, &ValidationError{Field: k.JSON, Message: fmt.Sprintf("value is not a valid integer: %q", raw)}
		}
		v.SetInt(n)
	case KeyUint:
		n, err := strconv.ParseUint(raw, 10, k.Type.Bits())
		if err != nil {
			return nil, &ValidationError{Field: k.JSON, Message: fmt.Sprintf("value is not a valid unsigned integer: %q", raw)}
		}
		v.SetUint(n)
	case KeyString:
		if raw == "" {
			return nil, &ValidationError{Field: k.JSON, Message: "value must not be empty"}
		}
		v.SetString(raw)
	}
	return v.Interface(), nil
}

// Normalize converts id to the key's Go type. Any integer type is accepted for integer keys.
func (k PrimaryKey) Normalize(id any) (any, error) {
	v := reflect.New(k.Type).Elem()
	if err := k.assign(v, id); err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (k PrimaryKey) assign(dst reflect.Value, id any) error {
	src := reflect.ValueOf(id)
	mismatch := &ValidationError{Field: k.JSON, Message: fmt.Sprintf("key of type %T does not fit %s", id, k.Type)}
	if !src.IsValid() {
		return mismatch
	}
	switch k.Kind {
	case KeyInt:
		switch {
		case src.CanInt():
			if dst.OverflowInt(src.Int()) {
				return mismatch
			}
			dst.SetInt(src.Int())
		case src.CanUint():
			if src.Uint() > 1<<62 || dst.OverflowInt(int64(src.Uint())) {
				return mismatch
			}
			dst.SetInt(int64(src.Uint()))
		default:
			return mismatch
		}
	case KeyUint:
		switch {
		case src.CanUint():
			if dst.OverflowUint(src.Uint()) {
				return mismatch
			}
			dst.SetUint(src.Uint())
		case src.CanInt() && src.Int() >= 0:
			if dst.OverflowUint(uint64(src.Int())) {
				return mismatch
			}
			dst.SetUint(uint64(src.Int()))
		default:
			return mismatch
		}
	case KeyString:
		if src.Kind() != reflect.String {
			return mismatch
		}
		dst.SetString(src.String())
	}
	return nil
}

func keyKind(t reflect.Type) (KeyKind, bool) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return KeyInt, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KeyUint, true
	case reflect.String:
		return KeyString, true
	}
	return 0, false
}

// ResolvePrimaryKey finds the key field of struct type t: the field tagged `crud:"pk"`, or
// failing that the field whose JSON name is "id", which is then treated as auto-assigned.
func ResolvePrimaryKey(t reflect.Type) (PrimaryKey, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return PrimaryKey{}, &SchemaError{Schema: t.String(), Reason: "not a struct type"}
	}
	return resolveKey(t, fieldsOf(t))
}

func resolveKey(t reflect.Type, fields []Field) (PrimaryKey, error) {
	var (
		key    PrimaryKey
		tagged int
	)
	for _, f := range fields {
		if !f.hasOpt("pk") {
			continue
		}
		tagged++
		key = PrimaryKey{Field: f, Auto: f.hasOpt("auto")}
	}

	switch {
	case tagged > 1:
		return PrimaryKey{}, &SchemaError{Schema: t.Name(), Reason: "composite primary keys are not supported"}
	case tagged == 0:
		found := false
		for _, f := range fields {
			if f.JSON == "id" {
				key = PrimaryKey{Field: f, Auto: true}
				found = true
				break
			}
		}
		if !found {
			return PrimaryKey{}, &SchemaError{Schema: t.Name(), Reason: `no primary key: tag a field with crud:"pk" or name it "id"`}
		}
	}

	kind, ok := keyKind(key.Type)
	if !ok {
		return PrimaryKey{}, &SchemaError{Schema: t.Name(), Reason: fmt.Sprintf("primary key %s has unsupported type %s", key.Name, key.Type)}
	}
	key.Kind = kind
	return key, nil
}

// fieldsOf lists the exported fields of t, flattening untagged embedded structs the way
// encoding/json does.
func fieldsOf(t reflect.Type) []Field {
	var fields []Field
	for i := range t.NumField() {
		sf := t.Field(i)
		jsonName, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if jsonName == "-" {
			continue
		}
		if sf.Anonymous && jsonName == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Struct {
				for _, f := range fieldsOf(ft) {
					f.Index = append([]int{i}, f.Index...)
					fields = append(fields, f)
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f := Field{
			Name:  sf.Name,
			Index: []int{i},
			Type:  sf.Type,
			JSON:  jsonName,
		}
		if f.JSON == "" {
			f.JSON = sf.Name
		}
		f.Column, _, _ = strings.Cut(sf.Tag.Get("db"), ",")
		if f.Column == "" {
			f.Column = strings.ToLower(f.JSON)
		}
		f.BSON, _, _ = strings.Cut(sf.Tag.Get("bson"), ",")
		if f.BSON == "" {
			f.BSON = strings.ToLower(sf.Name)
		}
		if tag := sf.Tag.Get(tagName); tag != "" {
			f.opts = strings.Split(tag, ",")
		}
		fields = append(fields, f)
	}
	return fields
}

func (f Field) hasOpt(opt string) bool {
	return slices.ContainsFunc(f.opts, func(o string) bool { return strings.TrimSpace(o) == opt })
}

// Patch holds field values keyed by JSON name, as produced from an update payload.
type Patch map[string]any

// Schema describes entity type T: its fields and resolved primary key. It is immutable after
// NewSchema and safe to share.
type Schema[T any] struct {
	Name   string
	Type   reflect.Type
	Fields []Field
	Key    PrimaryKey
	byJSON map[string]int
}

// NewSchema resolves the schema of T. The name defaults to the lower-cased type name and is used
// as the default route prefix, table, collection and key namespace.
func NewSchema[T any](name ...string) (*Schema[T], error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, &SchemaError{Schema: t.String(), Reason: "not a struct type"}
	}

	fields := fieldsOf(t)
	key, err := resolveKey(t, fields)
	if err != nil {
		return nil, err
	}

	s := &Schema[T]{
		Name:   strings.ToLower(t.Name()),
		Type:   t,
		Fields: fields,
		Key:    key,
		byJSON: make(map[string]int, len(fields)),
	}
	if len(name) > 0 && name[0] != "" {
		s.Name = name[0]
	}
	for i, f := range fields {
		s.byJSON[f.JSON] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. For package-level resource declarations.
func MustSchema[T any](name ...string) *Schema[T] {
	s, err := NewSchema[T](name...)
	if err != nil {
		panic(err)
	}
	return s
}

// Field returns the field with the given JSON name.
func (s *Schema[T]) Field(jsonName string) (Field, bool) {
	i, ok := s.byJSON[jsonName]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// KeyOf returns the primary key value of e.
func (s *Schema[T]) KeyOf(e T) any {
	return reflect.ValueOf(e).FieldByIndex(s.Key.Index).Interface()
}

// IntKey returns key as an int64 when it is an integer that fits.
func IntKey(key any) (int64, bool) {
	v := reflect.ValueOf(key)
	switch {
	case v.CanInt():
		return v.Int(), true
	case v.CanUint() && v.Uint() <= math.MaxInt64:
		return int64(v.Uint()), true
	}
	return 0, false
}

// HasKey reports whether e carries a non-zero primary key.
func (s *Schema[T]) HasKey(e T) bool {
	return !reflect.ValueOf(e).FieldByIndex(s.Key.Index).IsZero()
}

// SetKey stores id in the key field of e, converting between integer types.
func (s *Schema[T]) SetKey(e *T, id any) error {
	return s.Key.assign(reflect.ValueOf(e).Elem().FieldByIndex(s.Key.Index), id)
}

// ClearKey zeroes the key field of e.
func (s *Schema[T]) ClearKey(e *T) {
	f := reflect.ValueOf(e).Elem().FieldByIndex(s.Key.Index)
	f.SetZero()
}

// KeyPointer returns a pointer to the key field of e, for scanning a generated key.
func (s *Schema[T]) KeyPointer(e *T) any {
	return reflect.ValueOf(e).Elem().FieldByIndex(s.Key.Index).Addr().Interface()
}

// Columns returns the column names of all fields, in declaration order.
func (s *Schema[T]) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Values returns the field values of e, in declaration order.
func (s *Schema[T]) Values(e T) []any {
	v := reflect.ValueOf(e)
	vals := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		vals[i] = v.FieldByIndex(f.Index).Interface()
	}
	return vals
}

// Pointers returns pointers to the fields of e, in declaration order, as scan targets.
func (s *Schema[T]) Pointers(e *T) []any {
	v := reflect.ValueOf(e).Elem()
	ptrs := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		ptrs[i] = v.FieldByIndex(f.Index).Addr().Interface()
	}
	return ptrs
}

// IsKey reports whether f is the primary key field.
func (s *Schema[T]) IsKey(f Field) bool {
	return slices.Equal(f.Index, s.Key.Index)
}

// Apply merges patch onto e. Fields absent from the patch are left untouched, and the primary
// key is never changed.
func (s *Schema[T]) Apply(e *T, patch Patch) error {
	if len(patch) == 0 {
		return nil
	}
	values := make(map[string]any, len(patch))
	for name, v := range patch {
		if name == s.Key.JSON {
			continue
		}
		if _, ok := s.byJSON[name]; !ok {
			return &ValidationError{Field: name, Message: "unknown field"}
		}
		values[name] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           e,
		WeaklyTypedInput: true,
		Squash:           true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(values); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	return nil
}
