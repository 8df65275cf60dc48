package crud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodySize bounds create and update payloads.
const maxBodySize = 1 << 20

// payloadType is the struct type a create or update body is decoded into.
type payloadType struct {
	typ    reflect.Type
	fields []Field
	// required lists the fields a create body must carry: neither pointers nor omitempty.
	required []Field
}

func newPayloadType(v any, fallback reflect.Type) (payloadType, error) {
	t := fallback
	if v != nil {
		t = reflect.TypeOf(v)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
	}
	if t.Kind() != reflect.Struct {
		return payloadType{}, &SchemaError{Schema: t.String(), Reason: "payload schema must be a struct"}
	}
	fields := fieldsOf(t)
	return payloadType{typ: t, fields: fields, required: requiredFields(t, fields)}, nil
}

func requiredFields(t reflect.Type, fields []Field) []Field {
	var out []Field
	for _, f := range fields {
		if f.Type.Kind() == reflect.Pointer {
			continue
		}
		_, opts, _ := strings.Cut(t.FieldByIndex(f.Index).Tag.Get("json"), ",")
		if slices.Contains(strings.Split(opts, ","), "omitempty") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// member returns the object member matching name the way encoding/json does: an exact match
// first, else a case-insensitive one.
func member(raw map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if msg, ok := raw[name]; ok {
		return msg, true
	}
	for k, msg := range raw {
		if strings.EqualFold(k, name) {
			return msg, true
		}
	}
	return nil, false
}

// decode reads a JSON object body into a new value of the payload type. It also returns the raw
// members of the object, so callers can tell which fields were sent.
func (p payloadType) decode(body io.Reader) (reflect.Value, map[string]json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if err != nil {
		return reflect.Value{}, nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxBodySize {
		return reflect.Value{}, nil, &ValidationError{Field: "body", Message: "request body too large"}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return reflect.Value{}, nil, &ValidationError{Field: "body", Message: "request body must be a JSON object"}
	}

	ptr := reflect.New(p.typ)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return reflect.Value{}, nil, &ValidationError{Field: typeErr.Field, Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
		}
		return reflect.Value{}, nil, &ValidationError{Field: "body", Message: err.Error()}
	}
	return ptr, raw, nil
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

// newValidator returns a validator reporting JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(v *validator.Validate, ptr reflect.Value) error {
	err := v.Struct(ptr.Interface())
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag())}
	}
	return &ValidationError{Message: err.Error()}
}
