package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure so the HTTP layer (or bot) can
// translate it without string matching.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindPermission
	KindValidation
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Error carries the failure kind plus the entity and, for validation
// failures, the offending field.
type Error struct {
	Kind   Kind
	Entity string
	Field  string
	Msg    string
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("%s: field %q", e.Kind, e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Entity)
	}
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Msg: entity + " not found"}
}

func Permission(msg string) *Error {
	return &Error{Kind: KindPermission, Msg: msg}
}

// Validation names the malformed or missing field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: msg}
}

func State(msg string) *Error {
	return &Error{Kind: KindState, Msg: msg}
}

// KindOf extracts the Kind from err, unwrapping as needed. Returns 0
// for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsPermission(err error) bool { return KindOf(err) == KindPermission }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsState(err error) bool      { return KindOf(err) == KindState }
