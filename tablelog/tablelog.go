// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tablelog defines the types shared by all tablelog packages.
//
// A table is a directory of immutable data files given transactional,
// versioned semantics by an append-only log of actions. This package
// holds only vocabulary; behavior lives in the packages that import it.
package tablelog // import "tablelog.io/tablelog"

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Version identifies a committed table version. Versions form a dense,
// gapless, strictly increasing sequence starting at 0.
type Version int64

// NoVersion is the Version value meaning "no version", used for
// uninitialized tables and optional version arguments.
const NoVersion Version = -1

// String returns the decimal form of the version.
func (v Version) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// A TablePath locates a table: the directory, relative to the storage
// backend's root, whose log subdirectory holds the transaction log.
// Example: warehouse/events
type TablePath string

// A DataPath names a data file relative to its table's directory.
// It is given a unique type so the API is clear.
// Example: part-00000-5aef.parquet
type DataPath string

// An AppID identifies an application writing idempotently to a table.
// The log records a monotonic transaction version per AppID.
type AppID string

// LogDir is the subdirectory of a table that holds the transaction
// log. The name is fixed by the log protocol for interoperability.
const LogDir = "_delta_log"

// NullPartitionValue is the marker used in data paths and partition
// value maps to represent a null partition value.
const NullPartitionValue = "__HIVE_DEFAULT_PARTITION__"

// DataType is the name of a primitive column type as it appears in a
// serialized schema.
type DataType string

// Primitive column types.
const (
	String    DataType = "string"
	Long      DataType = "long"
	Integer   DataType = "integer"
	Short     DataType = "short"
	Byte      DataType = "byte"
	Float     DataType = "float"
	Double    DataType = "double"
	Boolean   DataType = "boolean"
	Binary    DataType = "binary"
	Date      DataType = "date"
	Timestamp DataType = "timestamp"
)

// Primitive reports whether t is one of the primitive column types.
// Complex types (struct, array, map) appear in schemas as JSON objects
// and are never primitive.
func (t DataType) Primitive() bool {
	switch t {
	case String, Long, Integer, Short, Byte, Float, Double, Boolean, Binary, Date, Timestamp:
		return true
	}
	return false
}

// SchemaField is one named, typed, nullable column of a schema.
type SchemaField struct {
	Name     string            `json:"name"`
	Type     json.RawMessage   `json:"type"`
	Nullable bool              `json:"nullable"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PrimitiveType returns the field's type if it is primitive, or the
// empty DataType if the field's type is complex.
func (f *SchemaField) PrimitiveType() DataType {
	s := strings.TrimSpace(string(f.Type))
	if len(s) < 2 || s[0] != '"' {
		return ""
	}
	var name string
	if err := json.Unmarshal(f.Type, &name); err != nil {
		return ""
	}
	t := DataType(name)
	if !t.Primitive() {
		return ""
	}
	return t
}

// Schema is an ordered sequence of columns.
type Schema struct {
	Fields []SchemaField
}

// schemaJSON is the wire form of a schema: a struct type with fields.
type schemaJSON struct {
	Type   string        `json:"type"`
	Fields []SchemaField `json:"fields"`
}

// ParseSchema parses the serialized schema string stored in a
// metadata action.
func ParseSchema(s string) (*Schema, error) {
	var sj schemaJSON
	if err := json.Unmarshal([]byte(s), &sj); err != nil {
		return nil, err
	}
	return &Schema{Fields: sj.Fields}, nil
}

// Marshal returns the serialized form of the schema, suitable for
// storing in a metadata action.
func (s *Schema) Marshal() (string, error) {
	b, err := json.Marshal(schemaJSON{Type: "struct", Fields: s.Fields})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Field returns the named field, or nil if the schema has no such
// column.
func (s *Schema) Field(name string) *SchemaField {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// PrimitiveField is a convenience for constructing a field of
// primitive type.
func PrimitiveField(name string, t DataType, nullable bool) SchemaField {
	b, _ := json.Marshal(string(t))
	return SchemaField{Name: name, Type: b, Nullable: nullable}
}
