package crud

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errNative = errors.New("UNIQUE constraint failed: label.name")

func TestTranslate(t *testing.T) {
	isIntegrity := func(err error) bool { return errors.Is(err, errNative) }

	assert.NoError(t, Translate(nil, isIntegrity))

	err := Translate(fmt.Errorf("insert: %w", errNative), isIntegrity)
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, errNative, "native error stays reachable")
	assert.Equal(t, "Key already exists: insert: UNIQUE constraint failed: label.name", err.Error())

	other := errors.New("connection reset")
	assert.Same(t, other, Translate(other, isIntegrity))
	assert.Same(t, other, Translate(other, nil))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantKnown  bool
		wantDetail string
	}{
		{ErrNotFound, http.StatusNotFound, true, "Item not found"},
		{fmt.Errorf("get 3: %w", ErrNotFound), http.StatusNotFound, true, "Item not found"},
		{&ValidationError{Field: "limit", Message: "must be greater than 0"}, http.StatusUnprocessableEntity, true, "limit: must be greater than 0"},
		{&ConflictError{Err: errNative}, http.StatusUnprocessableEntity, true, "Key already exists: UNIQUE constraint failed: label.name"},
		{&PartialDeleteError{Found: 3, Deleted: 2}, http.StatusInternalServerError, true, "Could not delete 3 documents from database."},
		{errors.New("boom"), 0, false, "boom"},
	}
	for _, tt := range tests {
		status, known := StatusCode(tt.err)
		assert.Equal(t, tt.wantStatus, status, tt.err.Error())
		assert.Equal(t, tt.wantKnown, known)
		assert.Equal(t, tt.wantDetail, Detail(tt.err))
	}
}
