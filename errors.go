package scripthost

import (
	"strings"
)

// Class categorizes a host-side failure.
type Class string

const (
	ClassLifecycle     Class = "lifecycle"     // released runtime, context or value; foreign ownership
	ClassThreadAccess  Class = "thread_access" // confinement violated
	ClassResolution    Class = "resolution"    // module not found
	ClassUnsupported   Class = "unsupported"   // operation not expressible by engine or value shape
	ClassEngine        Class = "engine"        // adapter failure that is not a script exception
	ClassConfiguration Class = "configuration"
	ClassException     Class = "exception"
)

// Error is the structured error returned by every host operation except
// script exceptions, which are reported as *Exception.
type Error struct {
	Cause  error
	Class  Class
	Op     string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Class))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on class, and on detail when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Class != t.Class {
		return false
	}
	return t.Detail == "" || t.Detail == e.Detail
}

// ErrorBuilder provides structured error construction.
type ErrorBuilder struct {
	err Error
}

// NewError creates a new error builder for the given class.
func NewError(class Class) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Class: class}}
}

// Op sets the operation name.
func (b *ErrorBuilder) Op(op string) *ErrorBuilder {
	b.err.Op = op
	return b
}

// Detail sets the detail message.
func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.err.Detail = detail
	return b
}

// Cause sets the underlying error.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Build returns the constructed error.
func (b *ErrorBuilder) Build() *Error {
	e := b.err
	return &e
}

const (
	detailRuntimeReleased = "runtime released"
	detailContextReleased = "context released"
	detailValueReleased   = "value released"
	detailForeignValue    = "value belongs to another context"
	detailForeignRuntime  = "invalid target runtime"
)

var (
	ErrLifecycle       = &Error{Class: ClassLifecycle}
	ErrRuntimeReleased = &Error{Class: ClassLifecycle, Detail: detailRuntimeReleased}
	ErrContextReleased = &Error{Class: ClassLifecycle, Detail: detailContextReleased}
	ErrValueReleased   = &Error{Class: ClassLifecycle, Detail: detailValueReleased}
	ErrForeignValue    = &Error{Class: ClassLifecycle, Detail: detailForeignValue}
	ErrThreadAccess    = &Error{Class: ClassThreadAccess}
	ErrResolution      = &Error{Class: ClassResolution}
	ErrUnsupported     = &Error{Class: ClassUnsupported}
	ErrEngine          = &Error{Class: ClassEngine}
	ErrConfiguration   = &Error{Class: ClassConfiguration}
	ErrException       = &Error{Class: ClassException}
)

func lifecycleError(op, detail string) error {
	return NewError(ClassLifecycle).Op(op).Detail(detail).Build()
}

func threadAccessError(op string) error {
	return NewError(ClassThreadAccess).Op(op).Detail("called off the owning thread").Build()
}

func unsupportedError(op, detail string) error {
	return NewError(ClassUnsupported).Op(op).Detail(detail).Build()
}

func engineError(op string, cause error) error {
	return NewError(ClassEngine).Op(op).Cause(cause).Build()
}

func resolutionError(op, name string) error {
	return NewError(ClassResolution).Op(op).Detail("could not load module '" + name + "'").Build()
}

// Exception is a script exception raised inside the engine, carried
// with the name, message and stack text the engine reported.
type Exception struct {
	Name    string
	Message string
	Stack   string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

func (e *Exception) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	switch t.Class {
	case ClassException:
		return true
	case ClassResolution:
		return e.Name == resolutionErrorName
	}
	return false
}

const resolutionErrorName = "ResolutionError"

// exceptionFrom builds an Exception out of the engine's last-exception
// payload: name, message, then stack lines.
func exceptionFrom(payload []string) *Exception {
	if len(payload) == 0 {
		return nil
	}
	exc := &Exception{Name: payload[0]}
	if len(payload) > 1 {
		exc.Message = payload[1]
	}
	if len(payload) > 2 {
		exc.Stack = strings.Join(payload[2:], "\n")
	}
	if exc.Name == "" {
		exc.Name = "Error"
	}
	return exc
}
