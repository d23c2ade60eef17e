// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package action defines the typed records that make up a table's
// transaction log.
//
// Each committed version of a table is one log file holding a sequence
// of actions, one JSON record per line. An action either changes the
// table's file set (Add, Remove), its descriptive state (Metadata,
// Protocol, DomainMetadata), or records provenance (Txn, CommitInfo).
// Actions are immutable once committed.
//
// The codec is forward compatible: fields this package does not know
// about, and whole action kinds it does not know about, are preserved
// opaquely and re-emitted on marshal, so logs written by newer engines
// survive a rewrite by older ones.
package action // import "tablelog.io/action"

import (
	"encoding/json"

	"tablelog.io/tablelog"
)

// Action is one log record: a tagged variant holding exactly one of
// the typed cases below (plus, possibly, action kinds unknown to this
// package, carried opaquely).
type Action struct {
	Add            *Add
	Remove         *Remove
	Metadata       *Metadata
	Protocol       *Protocol
	Txn            *Txn
	CommitInfo     *CommitInfo
	DomainMetadata *DomainMetadata

	// unknown holds action tags this package does not understand.
	unknown map[string]json.RawMessage
}

// Kind returns the wire tag of the action's case, for diagnostics.
// An action carrying only unknown tags reports "unknown"; an empty
// action reports "empty".
func (a *Action) Kind() string {
	switch {
	case a.Add != nil:
		return "add"
	case a.Remove != nil:
		return "remove"
	case a.Metadata != nil:
		return "metaData"
	case a.Protocol != nil:
		return "protocol"
	case a.Txn != nil:
		return "txn"
	case a.CommitInfo != nil:
		return "commitInfo"
	case a.DomainMetadata != nil:
		return "domainMetadata"
	case len(a.unknown) > 0:
		return "unknown"
	}
	return "empty"
}

// Add records that a data file is part of the table.
type Add struct {
	// Path is the file's location relative to the table directory.
	Path tablelog.DataPath
	// PartitionValues maps partition column name to the file's
	// value for it; a nil value is a null partition value.
	PartitionValues map[string]*string
	// Size is the file length in bytes.
	Size int64
	// ModificationTime is milliseconds since the Unix epoch.
	ModificationTime int64
	// DataChange reports whether the file changes the table's data,
	// as opposed to a rearrangement of existing data.
	DataChange bool
	// Stats optionally holds per-file statistics as raw JSON.
	Stats string
	// Tags holds opaque per-file annotations.
	Tags map[string]string
	// DeletionVector optionally points at a deletion vector that
	// masks rows of the file.
	DeletionVector *DeletionVector

	// Extra preserves fields unknown to this package.
	Extra map[string]json.RawMessage
}

// Remove records that a data file is no longer part of the table.
// The extended fields mirror the Add so replay never needs to re-read
// the original file.
type Remove struct {
	Path              tablelog.DataPath
	DeletionTimestamp *int64 // milliseconds since the Unix epoch
	DataChange        bool
	Size              *int64
	PartitionValues   map[string]*string
	Tags              map[string]string
	DeletionVector    *DeletionVector

	Extra map[string]json.RawMessage
}

// Metadata describes the table: identity, schema, partitioning and
// configuration. The most recent Metadata at or before a version
// defines the table's current shape.
type Metadata struct {
	// ID is the table's unique identifier, fixed at creation.
	ID          string
	Name        string
	Description string
	// Format describes the encoding of the table's data files.
	Format Format
	// SchemaString is the serialized schema; see tablelog.ParseSchema.
	SchemaString string
	// PartitionColumns is the ordered subset of schema columns the
	// table is partitioned by.
	PartitionColumns []string
	Configuration    map[string]string
	CreatedTime      *int64 // milliseconds since the Unix epoch

	Extra map[string]json.RawMessage
}

// Schema parses and returns the table schema.
func (m *Metadata) Schema() (*tablelog.Schema, error) {
	return tablelog.ParseSchema(m.SchemaString)
}

// Format describes the encoding of a table's data files.
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options,omitempty"`
}

// DefaultFormat is the format assumed when a metadata action carries none.
var DefaultFormat = Format{Provider: "parquet"}

// Feature-negotiation thresholds: a reader (writer) protocol version
// at or above the threshold carries an explicit feature list.
const (
	featureReaderVersion = 3
	featureWriterVersion = 7
)

// Protocol declares the minimum capabilities a client needs to read or
// write the log correctly.
type Protocol struct {
	MinReaderVersion int
	MinWriterVersion int
	// ReaderFeatures and WriterFeatures list required named features;
	// present exactly when the corresponding minimum version signals
	// feature-based negotiation.
	ReaderFeatures []string
	WriterFeatures []string

	Extra map[string]json.RawMessage
}

// Txn records the latest transaction version for an application
// writing idempotently. Writers deduplicate by comparing their own
// version against the recorded one.
type Txn struct {
	AppID       tablelog.AppID
	Version     int64
	LastUpdated *int64 // milliseconds since the Unix epoch

	Extra map[string]json.RawMessage
}

// CommitInfo is free-form provenance for a commit. It never affects
// replayed state; it exists for auditing.
type CommitInfo struct {
	Timestamp           *int64 // milliseconds since the Unix epoch
	Operation           string
	OperationParameters map[string]string
	EngineInfo          string
	TxnID               string

	Extra map[string]json.RawMessage
}

// DomainMetadata is a named, opaque configuration blob. The latest
// action per domain wins; Removed marks the domain as deleted.
type DomainMetadata struct {
	Domain        string
	Configuration string
	Removed       bool

	Extra map[string]json.RawMessage
}

// DeletionVector references a vector of deleted row indexes for a file.
// Carried opaquely through replay and checkpoints.
type DeletionVector struct {
	StorageType    string `json:"storageType"`
	PathOrInlineDV string `json:"pathOrInlineDv"`
	Offset         *int64 `json:"offset,omitempty"`
	SizeInBytes    int64  `json:"sizeInBytes"`
	Cardinality    int64  `json:"cardinality"`
}

// Stats is the parsed form of an Add's statistics blob.
type Stats struct {
	NumRecords int64                  `json:"numRecords"`
	MinValues  map[string]interface{} `json:"minValues,omitempty"`
	MaxValues  map[string]interface{} `json:"maxValues,omitempty"`
	NullCount  map[string]int64       `json:"nullCount,omitempty"`
}

// ParseStats parses the file statistics, if any.
// It returns nil if the add carries no statistics.
func (a *Add) ParseStats() (*Stats, error) {
	if a.Stats == "" {
		return nil, nil
	}
	var s Stats
	if err := json.Unmarshal([]byte(a.Stats), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
