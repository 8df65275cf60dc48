package crud

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredFields(t *testing.T) {
	type shipment struct {
		ID      int      `json:"id"`
		Weight  float64  `json:"weight"`
		Note    string   `json:"note,omitempty"`
		Express *bool    `json:"express"`
		Tags    []string `json:"tags"`
		Secret  string   `json:"-"`
	}
	p, err := newPayloadType(shipment{}, nil)
	require.NoError(t, err)

	var names []string
	for _, f := range p.required {
		names = append(names, f.JSON)
	}
	assert.Equal(t, []string{"id", "weight", "tags"}, names)
}

func TestMember(t *testing.T) {
	raw := map[string]json.RawMessage{"Color": json.RawMessage(`"red"`), "color": json.RawMessage(`"blue"`), "MASS": json.RawMessage(`2`)}

	msg, ok := member(raw, "color")
	require.True(t, ok)
	assert.JSONEq(t, `"blue"`, string(msg), "exact match wins")

	msg, ok = member(raw, "mass")
	require.True(t, ok)
	assert.JSONEq(t, `2`, string(msg))

	_, ok = member(raw, "type")
	assert.False(t, ok)
}

func TestRequiredFieldsPromoted(t *testing.T) {
	type base struct {
		Created string `json:"created"`
	}
	type event struct {
		base
		Name string `json:"name"`
	}
	p, err := newPayloadType(nil, reflect.TypeFor[event]())
	require.NoError(t, err)
	assert.Len(t, p.required, 2, "promoted fields count as well")
}
