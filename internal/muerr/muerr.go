// Package muerr defines the error-kind taxonomy shared across the VM core.
//
// Faults are classified by Kind rather than by Go type: callers that need
// to branch on failure category switch on Of(err), while everything else
// can just treat the error as an ordinary wrapped error.
package muerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a core fault per the error handling design.
type Kind int

const (
	// KindNone marks an error with no assigned kind (plain wrapped errors).
	KindNone Kind = iota
	// KindIRMalformation covers undefined ids, type mismatches, duplicate ids.
	KindIRMalformation
	// KindCodegenUnsupported covers unreachable instruction selection and
	// unsupported operand sizes/types.
	KindCodegenUnsupported
	// KindOutOfMemory covers allocation failure after a full GC cycle.
	KindOutOfMemory
	// KindRuntimeTrap covers null dereference, division by zero, and
	// checked integer overflow.
	KindRuntimeTrap
	// KindUncaughtException marks an exception that unwound past every frame.
	KindUncaughtException
)

func (k Kind) String() string {
	switch k {
	case KindIRMalformation:
		return "ir-malformation"
	case KindCodegenUnsupported:
		return "codegen-unsupported"
	case KindOutOfMemory:
		return "out-of-memory"
	case KindRuntimeTrap:
		return "runtime-trap"
	case KindUncaughtException:
		return "uncaught-exception"
	default:
		return "none"
	}
}

type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }

// New wraps msg with kind, attaching a stack trace.
func New(kind Kind, msg string) error {
	return &kindedError{kind: kind, err: errors.New(msg)}
}

// Newf is the Kind-aware analogue of fmt.Errorf, preserving the teacher's
// direct fmt.Errorf call shape while attaching a kind and a stack trace.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &kindedError{kind: kind, err: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap attaches kind to an existing error, preserving its chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: errors.Wrap(err, msg)}
}

// Of returns the Kind attached to err, or KindNone if none is attached
// anywhere in its Unwrap chain.
func Of(err error) Kind {
	var ke *kindedError
	for err != nil {
		if k, ok := err.(*kindedError); ok {
			ke = k
			break
		}
		err = errors.Unwrap(err)
	}
	if ke == nil {
		return KindNone
	}
	return ke.kind
}

// Fatal reports whether a fault of this kind is fatal to the whole process
// (as opposed to fatal only to the current compile or thread).
func (k Kind) Fatal() bool {
	return k == KindOutOfMemory
}
