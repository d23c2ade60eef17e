// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package action

// The wire form of an action is a JSON object with a single key naming
// the action kind. Field order is not significant; only field identity
// and value are. Decoding is strict about required fields and value
// types, and lax about everything else: unknown fields land in the
// variant's Extra map and unknown action kinds are carried whole.

import (
	"bufio"
	"bytes"
	"encoding/json"

	"tablelog.io/errors"
)

// maxRecord bounds a single log record during scanning.
const maxRecord = 64 * 1024 * 1024

// record is a partially decoded JSON object. Fields are consumed as
// they are recognized; whatever remains is preserved as Extra.
type record map[string]json.RawMessage

// need decodes the required field key into v.
func (r record) need(kind, key string, v interface{}) error {
	raw, ok := r[key]
	if !ok {
		return errors.E(errors.MalformedAction, errors.Errorf("%s: missing required field %q", kind, key))
	}
	delete(r, key)
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.E(errors.MalformedAction, errors.Errorf("%s: field %q: %v", kind, key, err))
	}
	return nil
}

// take decodes the optional field key into v, if present.
func (r record) take(kind, key string, v interface{}) error {
	raw, ok := r[key]
	if !ok {
		return nil
	}
	delete(r, key)
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.E(errors.MalformedAction, errors.Errorf("%s: field %q: %v", kind, key, err))
	}
	return nil
}

// rest returns the unconsumed fields, or nil if none remain.
func (r record) rest() map[string]json.RawMessage {
	if len(r) == 0 {
		return nil
	}
	return r
}

func parseRecord(kind string, b []byte) (record, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.E(errors.MalformedAction, errors.Errorf("%s: %v", kind, err))
	}
	return r, nil
}

// putExtra merges preserved unknown fields into a wire object,
// never overriding a known field.
func putExtra(m map[string]interface{}, extra map[string]json.RawMessage) {
	for k, v := range extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Action) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("action", b)
	if err != nil {
		return err
	}
	for tag, raw := range rec {
		var err error
		switch tag {
		case "add":
			a.Add = new(Add)
			err = json.Unmarshal(raw, a.Add)
		case "remove":
			a.Remove = new(Remove)
			err = json.Unmarshal(raw, a.Remove)
		case "metaData":
			a.Metadata = new(Metadata)
			err = json.Unmarshal(raw, a.Metadata)
		case "protocol":
			a.Protocol = new(Protocol)
			err = json.Unmarshal(raw, a.Protocol)
		case "txn":
			a.Txn = new(Txn)
			err = json.Unmarshal(raw, a.Txn)
		case "commitInfo":
			a.CommitInfo = new(CommitInfo)
			err = json.Unmarshal(raw, a.CommitInfo)
		case "domainMetadata":
			a.DomainMetadata = new(DomainMetadata)
			err = json.Unmarshal(raw, a.DomainMetadata)
		default:
			if a.unknown == nil {
				a.unknown = make(map[string]json.RawMessage)
			}
			a.unknown[tag] = raw
		}
		if err != nil {
			if _, ok := err.(*errors.Error); ok {
				return err
			}
			return errors.E(errors.MalformedAction, errors.Errorf("%s: %v", tag, err))
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a *Action) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	if a.Add != nil {
		m["add"] = a.Add
	}
	if a.Remove != nil {
		m["remove"] = a.Remove
	}
	if a.Metadata != nil {
		m["metaData"] = a.Metadata
	}
	if a.Protocol != nil {
		m["protocol"] = a.Protocol
	}
	if a.Txn != nil {
		m["txn"] = a.Txn
	}
	if a.CommitInfo != nil {
		m["commitInfo"] = a.CommitInfo
	}
	if a.DomainMetadata != nil {
		m["domainMetadata"] = a.DomainMetadata
	}
	putExtra(m, a.unknown)
	return json.Marshal(m)
}

// UnknownTags returns the wire tags of any action kinds carried
// opaquely, for diagnostics.
func (a *Action) UnknownTags() []string {
	var tags []string
	for tag := range a.unknown {
		tags = append(tags, tag)
	}
	return tags
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Add) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("add", b)
	if err != nil {
		return err
	}
	if err := rec.need("add", "path", &x.Path); err != nil {
		return err
	}
	if err := rec.take("add", "partitionValues", &x.PartitionValues); err != nil {
		return err
	}
	if err := rec.need("add", "size", &x.Size); err != nil {
		return err
	}
	if err := rec.need("add", "modificationTime", &x.ModificationTime); err != nil {
		return err
	}
	if err := rec.need("add", "dataChange", &x.DataChange); err != nil {
		return err
	}
	if err := rec.take("add", "stats", &x.Stats); err != nil {
		return err
	}
	if err := rec.take("add", "tags", &x.Tags); err != nil {
		return err
	}
	if err := rec.take("add", "deletionVector", &x.DeletionVector); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *Add) MarshalJSON() ([]byte, error) {
	pv := x.PartitionValues
	if pv == nil {
		pv = map[string]*string{}
	}
	m := map[string]interface{}{
		"path":             x.Path,
		"partitionValues":  pv,
		"size":             x.Size,
		"modificationTime": x.ModificationTime,
		"dataChange":       x.DataChange,
	}
	if x.Stats != "" {
		m["stats"] = x.Stats
	}
	if len(x.Tags) > 0 {
		m["tags"] = x.Tags
	}
	if x.DeletionVector != nil {
		m["deletionVector"] = x.DeletionVector
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Remove) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("remove", b)
	if err != nil {
		return err
	}
	if err := rec.need("remove", "path", &x.Path); err != nil {
		return err
	}
	if err := rec.take("remove", "deletionTimestamp", &x.DeletionTimestamp); err != nil {
		return err
	}
	if err := rec.take("remove", "dataChange", &x.DataChange); err != nil {
		return err
	}
	if err := rec.take("remove", "size", &x.Size); err != nil {
		return err
	}
	if err := rec.take("remove", "partitionValues", &x.PartitionValues); err != nil {
		return err
	}
	if err := rec.take("remove", "tags", &x.Tags); err != nil {
		return err
	}
	if err := rec.take("remove", "deletionVector", &x.DeletionVector); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *Remove) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"path":       x.Path,
		"dataChange": x.DataChange,
	}
	if x.DeletionTimestamp != nil {
		m["deletionTimestamp"] = *x.DeletionTimestamp
	}
	if x.Size != nil {
		m["size"] = *x.Size
	}
	if x.PartitionValues != nil {
		m["partitionValues"] = x.PartitionValues
	}
	if len(x.Tags) > 0 {
		m["tags"] = x.Tags
	}
	if x.DeletionVector != nil {
		m["deletionVector"] = x.DeletionVector
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Metadata) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("metaData", b)
	if err != nil {
		return err
	}
	if err := rec.need("metaData", "id", &x.ID); err != nil {
		return err
	}
	if err := rec.take("metaData", "name", &x.Name); err != nil {
		return err
	}
	if err := rec.take("metaData", "description", &x.Description); err != nil {
		return err
	}
	if err := rec.take("metaData", "format", &x.Format); err != nil {
		return err
	}
	if err := rec.need("metaData", "schemaString", &x.SchemaString); err != nil {
		return err
	}
	if err := rec.take("metaData", "partitionColumns", &x.PartitionColumns); err != nil {
		return err
	}
	if err := rec.take("metaData", "configuration", &x.Configuration); err != nil {
		return err
	}
	if err := rec.take("metaData", "createdTime", &x.CreatedTime); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *Metadata) MarshalJSON() ([]byte, error) {
	cols := x.PartitionColumns
	if cols == nil {
		cols = []string{}
	}
	cfg := x.Configuration
	if cfg == nil {
		cfg = map[string]string{}
	}
	m := map[string]interface{}{
		"id":               x.ID,
		"schemaString":     x.SchemaString,
		"partitionColumns": cols,
		"configuration":    cfg,
	}
	if x.Name != "" {
		m["name"] = x.Name
	}
	if x.Description != "" {
		m["description"] = x.Description
	}
	if x.Format.Provider != "" {
		m["format"] = x.Format
	}
	if x.CreatedTime != nil {
		m["createdTime"] = *x.CreatedTime
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Protocol) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("protocol", b)
	if err != nil {
		return err
	}
	if err := rec.need("protocol", "minReaderVersion", &x.MinReaderVersion); err != nil {
		return err
	}
	if err := rec.need("protocol", "minWriterVersion", &x.MinWriterVersion); err != nil {
		return err
	}
	if x.MinReaderVersion >= featureReaderVersion {
		if err := rec.need("protocol", "readerFeatures", &x.ReaderFeatures); err != nil {
			return err
		}
	} else if err := rec.take("protocol", "readerFeatures", &x.ReaderFeatures); err != nil {
		return err
	}
	if x.MinWriterVersion >= featureWriterVersion {
		if err := rec.need("protocol", "writerFeatures", &x.WriterFeatures); err != nil {
			return err
		}
	} else if err := rec.take("protocol", "writerFeatures", &x.WriterFeatures); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *Protocol) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"minReaderVersion": x.MinReaderVersion,
		"minWriterVersion": x.MinWriterVersion,
	}
	if x.ReaderFeatures != nil {
		m["readerFeatures"] = x.ReaderFeatures
	}
	if x.WriterFeatures != nil {
		m["writerFeatures"] = x.WriterFeatures
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Txn) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("txn", b)
	if err != nil {
		return err
	}
	if err := rec.need("txn", "appId", &x.AppID); err != nil {
		return err
	}
	if err := rec.need("txn", "version", &x.Version); err != nil {
		return err
	}
	if err := rec.take("txn", "lastUpdated", &x.LastUpdated); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *Txn) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"appId":   x.AppID,
		"version": x.Version,
	}
	if x.LastUpdated != nil {
		m["lastUpdated"] = *x.LastUpdated
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *CommitInfo) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("commitInfo", b)
	if err != nil {
		return err
	}
	if err := rec.take("commitInfo", "timestamp", &x.Timestamp); err != nil {
		return err
	}
	if err := rec.take("commitInfo", "operation", &x.Operation); err != nil {
		return err
	}
	if err := rec.take("commitInfo", "operationParameters", &x.OperationParameters); err != nil {
		return err
	}
	if err := rec.take("commitInfo", "engineInfo", &x.EngineInfo); err != nil {
		return err
	}
	if err := rec.take("commitInfo", "txnId", &x.TxnID); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *CommitInfo) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	if x.Timestamp != nil {
		m["timestamp"] = *x.Timestamp
	}
	if x.Operation != "" {
		m["operation"] = x.Operation
	}
	if len(x.OperationParameters) > 0 {
		m["operationParameters"] = x.OperationParameters
	}
	if x.EngineInfo != "" {
		m["engineInfo"] = x.EngineInfo
	}
	if x.TxnID != "" {
		m["txnId"] = x.TxnID
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *DomainMetadata) UnmarshalJSON(b []byte) error {
	rec, err := parseRecord("domainMetadata", b)
	if err != nil {
		return err
	}
	if err := rec.need("domainMetadata", "domain", &x.Domain); err != nil {
		return err
	}
	if err := rec.take("domainMetadata", "configuration", &x.Configuration); err != nil {
		return err
	}
	if err := rec.take("domainMetadata", "removed", &x.Removed); err != nil {
		return err
	}
	x.Extra = rec.rest()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x *DomainMetadata) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"domain":        x.Domain,
		"configuration": x.Configuration,
		"removed":       x.Removed,
	}
	putExtra(m, x.Extra)
	return json.Marshal(m)
}

// ParseAll decodes a commit or checkpoint-shard file: one action
// record per line, in order. Blank lines are ignored. A record that
// fails to decode fails the whole parse with kind MalformedAction and
// the record's index.
func ParseAll(data []byte) ([]Action, error) {
	const op errors.Op = "action.ParseAll"
	var acts []Action
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxRecord)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, errors.E(op, errors.MalformedAction, errors.Errorf("record %d: %v", n, err))
		}
		acts = append(acts, a)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.E(op, errors.MalformedAction, err)
	}
	return acts, nil
}

// MarshalAll encodes actions as a newline-delimited file, one record
// per line, in order.
func MarshalAll(acts []Action) ([]byte, error) {
	var buf bytes.Buffer
	for i := range acts {
		b, err := json.Marshal(&acts[i])
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
