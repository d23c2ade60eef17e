// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage defines the low-level interface between the log
// engine and the backend that durably stores log and checkpoint files.
//
// The engine depends on exactly three operations: ordered listing by
// prefix, whole-object reads, and an atomic conditional put. The
// conditional put is the primitive the whole commit protocol rests on;
// a backend whose PutIfAbsent is best-effort cannot provide isolation.
// Storage implementations must be safe for concurrent use.
package storage // import "tablelog.io/storage"

import (
	"context"
	"strings"
	"time"

	"tablelog.io/errors"
)

// ObjInfo describes one stored object, as reported by List.
type ObjInfo struct {
	// Ref is the object's full name relative to the backend root.
	Ref string
	// Size is the object's length in bytes.
	Size int64
	// Modified is the object's last modification time.
	Modified time.Time
}

// Storage is the interface to a log storage backend.
type Storage interface {
	// List returns the objects whose names begin with prefix,
	// ordered lexically by name. A missing prefix yields an empty
	// list, not an error.
	List(ctx context.Context, prefix string) ([]ObjInfo, error)

	// Get retrieves the bytes associated with a ref. It fails with
	// kind errors.NotExist if no such object exists, and otherwise
	// distinguishes errors.TransientIO from errors.PermanentIO.
	Get(ctx context.Context, ref string) ([]byte, error)

	// PutIfAbsent atomically creates ref holding data, failing with
	// kind errors.Exist if ref already exists. The create must be
	// all-or-nothing: no reader may observe a partially written
	// object, and two racing calls for one ref must admit exactly
	// one winner.
	PutIfAbsent(ctx context.Context, ref string, data []byte) error
}

var registration = make(map[string]func(*Opts) (Storage, error))

// Opts holds configuration options for a storage backend.
// It is meant to be used by implementations of Storage.
type Opts struct {
	Opts map[string]string // key-value pairs
}

// DialOpts is a daisy-chaining mechanism for setting options to a backend during Dial.
type DialOpts func(*Opts) error

// Register registers a new backend constructor under a name.
// It is typically called in init functions.
func Register(name string, fn func(*Opts) (Storage, error)) error {
	const op errors.Op = "storage.Register"
	if _, exists := registration[name]; exists {
		return errors.E(op, errors.Exist, errors.Str(name))
	}
	registration[name] = fn
	return nil
}

// WithKeyValue sets a key-value pair as option. If called multiple times
// with the same key, the last one wins.
func WithKeyValue(key, value string) DialOpts {
	return func(o *Opts) error {
		o.Opts[key] = value
		return nil
	}
}

// WithOptions parses a string in the format "key1=value1,key2=value2,..."
// where keys and values are specific to each storage backend. Neither key
// nor value may contain the characters "," or "=". Use WithKeyValue
// repeatedly if these characters need to be used.
func WithOptions(options string) DialOpts {
	const op errors.Op = "storage.WithOptions"
	return func(o *Opts) error {
		pairs := strings.Split(options, ",")
		for _, p := range pairs {
			kv := strings.Split(p, "=")
			if len(kv) != 2 {
				return errors.E(op, errors.Invalid, errors.Errorf("error parsing option %q", p))
			}
			o.Opts[kv[0]] = kv[1]
		}
		return nil
	}
}

// Dial dials the named storage backend using the dial options opts.
func Dial(name string, opts ...DialOpts) (Storage, error) {
	const op errors.Op = "storage.Dial"
	fn, found := registration[name]
	if !found {
		return nil, errors.E(op, errors.NotExist, errors.Str("storage backend type not registered: "+name))
	}
	dOpts := &Opts{
		Opts: make(map[string]string),
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(dOpts); err != nil {
			return nil, err
		}
	}
	return fn(dOpts)
}
