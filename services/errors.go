package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CrowderSoup/taskpro/database"
)

var (
	ErrNotAuthorized = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
)

// NotFoundError names the kind of record that could not be resolved
type NotFoundError struct {
	Kind string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(kind string) error {
	return &NotFoundError{Kind: kind}
}

// ConflictError reports a unique key already taken by another record
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func conflict(msg string) error {
	return &ConflictError{Message: msg}
}

// FieldError is a single failed check on an input field
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return e.Message
}

// ValidationError carries every failed check of a request, not just the first
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// Messages returns the field messages in the order they were found
func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Message
	}
	return out
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{
		Field:   field,
		Message: fmt.Sprintf("%q "+format, append([]any{field}, args...)...),
	})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// storeError converts store sentinels into service errors
func storeError(kind string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return notFound(kind)
	case errors.Is(err, database.ErrDuplicate):
		return &ConflictError{Message: kind + " already exists", Err: err}
	case errors.Is(err, database.ErrStaleVersion):
		return &ConflictError{Message: kind + " was changed by another request", Err: err}
	}
	return err
}
