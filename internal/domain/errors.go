package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrInvalidData   = errors.New("invalid data")
	ErrNotFound      = errors.New("not found")
)

// ConfigurationError means a caller omitted a required option. It is a
// programming or integration error and is never recovered.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string        { return e.Msg }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InvalidDataError means a payload did not match the expected shape.
type InvalidDataError struct {
	Msg    string
	Fields []FieldError
}

func (e *InvalidDataError) Error() string {
	if len(e.Fields) == 0 {
		return e.Msg
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return e.Msg + ": " + strings.Join(parts, "; ")
}

func (e *InvalidDataError) Is(target error) bool { return target == ErrInvalidData }

// NotFoundError reports a missing tenant or identity.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("%s %q not found", e.Kind, e.Key) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
