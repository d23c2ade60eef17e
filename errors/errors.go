// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errors defines the error handling used by all tablelog software.
package errors // import "tablelog.io/errors"

import (
	"bytes"
	"fmt"
	"runtime"

	"tablelog.io/log"
	"tablelog.io/tablelog"
)

// Error is the type that implements the error interface.
// It contains a number of fields, each of different type.
// An Error value may leave some values unset.
type Error struct {
	// Path is the table whose log was being accessed.
	Path tablelog.TablePath
	// Version is the table version involved, or tablelog.NoVersion.
	Version tablelog.Version
	// Op is the operation being performed, usually the name of the
	// method being invoked (Resolve, Commit, etc.).
	Op Op
	// Kind is the class of error, such as a log gap or a commit
	// conflict, or "Other" if its class is unknown or irrelevant.
	Kind Kind
	// The underlying error that triggered this one, if any.
	Err error
}

var _ error = (*Error)(nil)

// Op describes an operation, usually as the package and method,
// such as "commit.Txn.Commit".
type Op string

// Separator is the string used to separate nested errors. By
// default, to make errors easier on the eye, nested errors are
// indented on a new line. A server may instead choose to keep each
// error on a single line by modifying the separator string, perhaps
// to ":: ".
var Separator = ":\n\t"

// Kind defines the kind of error this is, mostly for use by callers
// that must act differently depending on the error, such as a commit
// loop deciding whether to rebase.
type Kind uint8

// Kinds of errors.
//
// The integrity kinds (MalformedAction through LogInconsistency)
// describe problems with a table's transaction log. The commit kinds
// (ConcurrentModification through UnsupportedProtocol) describe why a
// commit attempt ended. TransientIO errors may be retried;
// PermanentIO errors may not.
const (
	Other                  Kind = iota // Unclassified error. This value is not printed in the error message.
	Invalid                            // Invalid operation for this type of item.
	Exist                              // Item already exists.
	NotExist                           // Item does not exist.
	Internal                           // Internal error or inconsistency.
	MalformedAction                    // Log record cannot be decoded as an action.
	LogGap                             // A commit version is missing below the requested version.
	IncompleteCheckpoint               // A checkpoint's shard set is incomplete.
	LogInconsistency                   // Semantic mismatch between log actions.
	ConcurrentModification             // A concurrent commit touched the same footprint.
	RetriesExceeded                    // The commit rebase budget was exhausted.
	UnsupportedProtocol                // The log requires features this client lacks.
	TransientIO                        // Retryable I/O error such as a network failure.
	PermanentIO                        // Non-retryable I/O error.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case Internal:
		return "internal error"
	case MalformedAction:
		return "malformed action"
	case LogGap:
		return "gap in transaction log"
	case IncompleteCheckpoint:
		return "incomplete checkpoint"
	case LogInconsistency:
		return "transaction log inconsistency"
	case ConcurrentModification:
		return "concurrent modification"
	case RetriesExceeded:
		return "commit retries exceeded"
	case UnsupportedProtocol:
		return "unsupported log protocol"
	case TransientIO:
		return "transient I/O error"
	case PermanentIO:
		return "permanent I/O error"
	}
	return "unknown error kind"
}

// E builds an error value from its arguments.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//	errors.Op
//		The operation being performed, usually the method
//		being invoked (Resolve, Commit, etc.).
//	tablelog.TablePath
//		The table whose log is being accessed.
//	tablelog.Version
//		The table version involved.
//	errors.Kind
//		The class of error, such as a log gap.
//	error
//		The underlying error that triggered this one.
//	string
//		Treated as an error message and assigned to the
//		Err field after a call to errors.Str.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return Str("no error arguments")
	}
	e := &Error{Version: tablelog.NoVersion}
	for _, arg := range args {
		switch arg := arg.(type) {
		case Op:
			e.Op = arg
		case tablelog.TablePath:
			e.Path = arg
		case tablelog.Version:
			e.Version = arg
		case Kind:
			e.Kind = arg
		case *Error:
			// Make a copy
			copy := *arg
			e.Err = &copy
		case error:
			e.Err = arg
		case string:
			e.Err = Str(arg)
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Printf("errors.E: bad call from %s:%d: %v", file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}

	prev, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	// The previous error was also one of ours. Suppress duplications
	// so the message won't contain the same table, version or kind
	// twice.
	if prev.Path == e.Path {
		prev.Path = ""
	}
	if prev.Version == e.Version {
		prev.Version = tablelog.NoVersion
	}
	if prev.Kind == e.Kind {
		prev.Kind = Other
	}
	// If this error has Kind unset or Other, pull up the inner one.
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}
	return e
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *bytes.Buffer, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) isZero() bool {
	return e.Path == "" && e.Version == tablelog.NoVersion && e.Op == "" && e.Kind == 0 && e.Err == nil
}

func (e *Error) Error() string {
	b := new(bytes.Buffer)
	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(string(e.Op))
	}
	if e.Path != "" {
		pad(b, ": ")
		b.WriteString(string(e.Path))
	}
	if e.Version != tablelog.NoVersion {
		pad(b, ", ")
		b.WriteString("version ")
		b.WriteString(e.Version.String())
	}
	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		// Indent on new line if we are cascading non-empty tablelog errors.
		if prevErr, ok := e.Err.(*Error); ok {
			if !prevErr.isZero() {
				pad(b, Separator)
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Unwrap returns the underlying error, making Error friendly to the
// standard library's errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Recreate the errors.New functionality of the standard Go errors package
// so we can create simple text errors when needed.

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

// errorString is a trivial implementation of error.
type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows clients to import only this
// package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Match compares its two error arguments. It can be used to check
// for expected errors in tests. Both arguments must have underlying
// type *Error or Match will return false. Otherwise it returns true
// iff every non-zero element of the first error is equal to the
// corresponding element of the second.
// If the Err field is a *Error, Match recurs on both fields;
// otherwise it compares the strings returned by the Error methods.
// Elements that are in the second argument but not present in
// the first are ignored.
//
// For example,
//	Match(errors.E(tablelog.TablePath("warehouse/events"), errors.LogGap), err)
// tests whether err is an Error with Kind=LogGap and Path=warehouse/events.
func Match(err1, err2 error) bool {
	e1, ok := err1.(*Error)
	if !ok {
		return false
	}
	e2, ok := err2.(*Error)
	if !ok {
		return false
	}
	if e1.Path != "" && e2.Path != e1.Path {
		return false
	}
	if e1.Version != tablelog.NoVersion && e2.Version != e1.Version {
		return false
	}
	if e1.Op != "" && e2.Op != e1.Op {
		return false
	}
	if e1.Kind != Other && e2.Kind != e1.Kind {
		return false
	}
	if e1.Err != nil {
		if _, ok := e1.Err.(*Error); ok {
			return Match(e1.Err, e2.Err)
		}
		if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
			return false
		}
	}
	return true
}

// Is reports whether err is an *Error of the given Kind.
// If err is nil then Is returns false.
func Is(kind Kind, err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		return Is(kind, e.Err)
	}
	return false
}
