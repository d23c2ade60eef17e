// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package valid does validation of candidate actions before they are
// committed to a log. Replay is deliberately more tolerant than this
// package: commits already in the log are interpreted as written, but
// new commits must be well formed.
package valid // import "tablelog.io/valid"

import (
	"strings"

	"tablelog.io/action"
	"tablelog.io/errors"
	"tablelog.io/tablelog"
)

// DataPath verifies that p is a well-formed relative data-file path:
// non-empty, slash-separated, with no absolute or parent references.
func DataPath(p tablelog.DataPath) error {
	const op errors.Op = "valid.DataPath"
	if p == "" {
		return errors.E(op, errors.Invalid, errors.Str("empty file path"))
	}
	if strings.HasPrefix(string(p), "/") {
		return errors.E(op, errors.Invalid, errors.Errorf("file path %q is not relative", p))
	}
	for _, elem := range strings.Split(string(p), "/") {
		switch elem {
		case "", ".", "..":
			return errors.E(op, errors.Invalid, errors.Errorf("file path %q has a bad element", p))
		}
	}
	return nil
}

// Metadata verifies a metadata action: it must carry a table id, a
// parseable schema, and partition columns drawn from that schema.
func Metadata(m *action.Metadata) error {
	const op errors.Op = "valid.Metadata"
	if m.ID == "" {
		return errors.E(op, errors.Invalid, errors.Str("metadata has no table id"))
	}
	schema, err := m.Schema()
	if err != nil {
		return errors.E(op, errors.Invalid, err)
	}
	for _, col := range m.PartitionColumns {
		if schema.Field(col) == nil {
			return errors.E(op, errors.Invalid, errors.Errorf("partition column %q is not in the schema", col))
		}
	}
	return nil
}

// Protocol verifies a protocol action.
func Protocol(p *action.Protocol) error {
	const op errors.Op = "valid.Protocol"
	if p.MinReaderVersion < 1 || p.MinWriterVersion < 1 {
		return errors.E(op, errors.Invalid, errors.Errorf("bad protocol versions %d/%d", p.MinReaderVersion, p.MinWriterVersion))
	}
	return nil
}

// Actions verifies a candidate commit's actions.
func Actions(acts []action.Action) error {
	const op errors.Op = "valid.Actions"
	for i := range acts {
		a := &acts[i]
		var err error
		switch {
		case a.Add != nil:
			err = DataPath(a.Add.Path)
		case a.Remove != nil:
			err = DataPath(a.Remove.Path)
		case a.Metadata != nil:
			err = Metadata(a.Metadata)
		case a.Protocol != nil:
			err = Protocol(a.Protocol)
		case a.Txn != nil:
			if a.Txn.AppID == "" {
				err = errors.E(errors.Invalid, errors.Str("txn has no app id"))
			}
		case a.DomainMetadata != nil:
			if a.DomainMetadata.Domain == "" {
				err = errors.E(errors.Invalid, errors.Str("domain metadata has no domain"))
			}
		}
		if err != nil {
			return errors.E(op, errors.Invalid, errors.Errorf("action %d (%s): %v", i, a.Kind(), err))
		}
	}
	return nil
}
