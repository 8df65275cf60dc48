package crud

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by backends when no entity has the requested key.
	ErrNotFound = errors.New("item not found")
	// ErrConflict matches every *ConflictError via errors.Is.
	ErrConflict = errors.New("key already exists")
	// ErrAlreadyRegistered is returned by a second call to Router.Register.
	ErrAlreadyRegistered = errors.New("crud: routes already registered")
)

// NotFoundDetail is the response detail for ErrNotFound.
const NotFoundDetail = "Item not found"

// ConflictError reports a unique or integrity constraint violation. Err is the backend's native
// error, kept for diagnostics.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Key already exists: %v", e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError reports a malformed payload, key or pagination parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PartialDeleteError is returned by DeleteAll when fewer entities were removed than were found.
type PartialDeleteError struct {
	Found   int
	Deleted int
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("Could not delete %d documents from database.", e.Found)
}

// SchemaError reports an entity type that cannot be served, e.g. one without a usable key.
type SchemaError struct {
	Schema string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("crud: schema %s: %s", e.Schema, e.Reason)
}

// Translate converts a backend-native error: errors for which isIntegrity reports true become a
// *ConflictError, everything else is returned unchanged.
func Translate(err error, isIntegrity func(error) bool) error {
	if err == nil {
		return nil
	}
	if isIntegrity != nil && isIntegrity(err) {
		return &ConflictError{Err: err}
	}
	return err
}

// StatusCode maps an error of this package's taxonomy to its HTTP status. It returns false for
// unknown errors, which are left to the router's ErrorHandler.
func StatusCode(err error) (int, bool) {
	var (
		verr *ValidationError
		cerr *ConflictError
		perr *PartialDeleteError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, true
	case errors.As(err, &verr), errors.As(err, &cerr):
		return http.StatusUnprocessableEntity, true
	case errors.As(err, &perr):
		return http.StatusInternalServerError, true
	}
	return 0, false
}

// Detail returns the response message for an error of the taxonomy.
func Detail(err error) string {
	if errors.Is(err, ErrNotFound) {
		return NotFoundDetail
	}
	var (
		verr *ValidationError
		cerr *ConflictError
		perr *PartialDeleteError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &cerr):
		return cerr.Error()
	case errors.As(err, &perr):
		return perr.Error()
	}
	return err.Error()
}
