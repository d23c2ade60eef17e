// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snapshot materializes table state from a log segment.
//
// A Snapshot is the immutable view of a table at one version: its
// schema, protocol, active file set, transaction watermarks and domain
// metadata. Snapshots are built by folding a segment's actions, in
// commit order, onto a seed state; the fold is a pure function of its
// inputs, so replaying the same segment twice yields equal snapshots.
// A Snapshot never mutates after Build and is safe for concurrent use.
package snapshot // import "tablelog.io/snapshot"

import (
	"context"
	"sort"

	"tablelog.io/action"
	"tablelog.io/errors"
	"tablelog.io/segment"
	"tablelog.io/storage"
	"tablelog.io/tablelog"
)

// Warning records a non-fatal inconsistency observed during replay.
// A snapshot carrying warnings is degraded but usable.
type Warning struct {
	Version tablelog.Version
	Path    tablelog.DataPath
	Message string
}

// Snapshot is the materialized state of a table at a version.
type Snapshot struct {
	table       tablelog.TablePath
	version     tablelog.Version
	baseVersion tablelog.Version

	metadata *action.Metadata
	protocol *action.Protocol
	schema   *tablelog.Schema
	files    map[tablelog.DataPath]*action.Add
	txns     map[tablelog.AppID]action.Txn
	domains  map[string]action.DomainMetadata
	warnings []Warning
}

// Table returns the table the snapshot belongs to.
func (s *Snapshot) Table() tablelog.TablePath { return s.table }

// Version returns the table version the snapshot materializes.
func (s *Snapshot) Version() tablelog.Version { return s.version }

// BaseVersion returns the version of the seed state the snapshot was
// replayed from, or tablelog.NoVersion for a replay from genesis.
func (s *Snapshot) BaseVersion() tablelog.Version { return s.baseVersion }

// Metadata returns the current metadata action, or nil if the table
// is uninitialized. The caller must not modify the result.
func (s *Snapshot) Metadata() *action.Metadata { return s.metadata }

// Protocol returns the current protocol action, or nil if none has
// been committed. The caller must not modify the result.
func (s *Snapshot) Protocol() *action.Protocol { return s.protocol }

// Schema returns the current schema, or nil if the table is
// uninitialized.
func (s *Snapshot) Schema() *tablelog.Schema { return s.schema }

// File returns the add action for an active file, if the path is
// active in this snapshot.
func (s *Snapshot) File(p tablelog.DataPath) (*action.Add, bool) {
	a, ok := s.files[p]
	return a, ok
}

// Files returns the active files, sorted by path.
// The caller must not modify the results.
func (s *Snapshot) Files() []*action.Add {
	adds := make([]*action.Add, 0, len(s.files))
	for _, a := range s.files {
		adds = append(adds, a)
	}
	sort.Slice(adds, func(i, j int) bool { return adds[i].Path < adds[j].Path })
	return adds
}

// NumFiles returns the number of active files.
func (s *Snapshot) NumFiles() int { return len(s.files) }

// TxnVersion returns the latest recorded transaction version for app,
// if one has been committed.
func (s *Snapshot) TxnVersion(app tablelog.AppID) (int64, bool) {
	t, ok := s.txns[app]
	if !ok {
		return 0, false
	}
	return t.Version, true
}

// Txns returns a copy of the per-application transaction watermarks.
func (s *Snapshot) Txns() map[tablelog.AppID]action.Txn {
	m := make(map[tablelog.AppID]action.Txn, len(s.txns))
	for k, v := range s.txns {
		m[k] = v
	}
	return m
}

// DomainMetadata returns the configuration for a domain, if the
// domain exists and is not removed.
func (s *Snapshot) DomainMetadata(domain string) (string, bool) {
	d, ok := s.domains[domain]
	if !ok || d.Removed {
		return "", false
	}
	return d.Configuration, true
}

// DomainEntries returns every domain metadata entry, including removed
// ones, sorted by domain. Checkpoints persist removed entries so a
// removal is not resurrected by an older add during later replays.
func (s *Snapshot) DomainEntries() []action.DomainMetadata {
	ds := make([]action.DomainMetadata, 0, len(s.domains))
	for _, d := range s.domains {
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Domain < ds[j].Domain })
	return ds
}

// Warnings returns the non-fatal inconsistencies observed while the
// snapshot was replayed.
func (s *Snapshot) Warnings() []Warning { return s.warnings }

// Degraded reports whether replay observed any inconsistency.
func (s *Snapshot) Degraded() bool { return len(s.warnings) > 0 }

// A Builder folds actions into table state. It is used by Replay and
// by checkpoint reading; most callers want Replay.
type Builder struct {
	snap *Snapshot
}

// NewBuilder returns a Builder seeded with a copy of seed's state, or
// empty genesis state if seed is nil.
func NewBuilder(table tablelog.TablePath, seed *Snapshot) *Builder {
	s := &Snapshot{
		table:       table,
		baseVersion: tablelog.NoVersion,
		files:       make(map[tablelog.DataPath]*action.Add),
		txns:        make(map[tablelog.AppID]action.Txn),
		domains:     make(map[string]action.DomainMetadata),
	}
	if seed != nil {
		s.metadata = seed.metadata
		s.protocol = seed.protocol
		s.baseVersion = seed.version
		for k, v := range seed.files {
			s.files[k] = v
		}
		for k, v := range seed.txns {
			s.txns[k] = v
		}
		for k, v := range seed.domains {
			s.domains[k] = v
		}
		s.warnings = append(s.warnings, seed.warnings...)
	}
	return &Builder{snap: s}
}

// Apply folds one action, attributed to version v, into the state.
// Action order is the order written: the last action for a path wins
// across the whole replay, so a remove followed by a later add leaves
// the file active.
func (b *Builder) Apply(a *action.Action, v tablelog.Version) {
	s := b.snap
	switch {
	case a.Add != nil:
		s.files[a.Add.Path] = a.Add
	case a.Remove != nil:
		r := a.Remove
		if prev, ok := s.files[r.Path]; ok && r.PartitionValues != nil && !pvEqual(prev.PartitionValues, r.PartitionValues) {
			s.warnings = append(s.warnings, Warning{
				Version: v,
				Path:    r.Path,
				Message: "remove's partition values do not match the add being removed",
			})
		}
		delete(s.files, r.Path)
	case a.Metadata != nil:
		s.metadata = a.Metadata
	case a.Protocol != nil:
		s.protocol = a.Protocol
	case a.Txn != nil:
		s.txns[a.Txn.AppID] = *a.Txn
	case a.DomainMetadata != nil:
		s.domains[a.DomainMetadata.Domain] = *a.DomainMetadata
	}
	// CommitInfo and unknown action kinds never affect state.
}

// Build finalizes the state as the snapshot for version v. The
// Builder must not be used afterwards.
func (b *Builder) Build(v tablelog.Version) (*Snapshot, error) {
	const op errors.Op = "snapshot.Builder.Build"
	s := b.snap
	s.version = v
	if s.metadata != nil {
		schema, err := s.metadata.Schema()
		if err != nil {
			return nil, errors.E(op, s.table, v, errors.MalformedAction, err)
		}
		s.schema = schema
	}
	b.snap = nil
	return s, nil
}

// Replay folds a resolved segment into a snapshot. For a segment
// anchored at a stored checkpoint the caller must supply the seed
// obtained from reading that checkpoint; for a segment anchored at a
// caller-held snapshot, that snapshot is the seed; otherwise seed is
// nil and replay starts from genesis.
func Replay(ctx context.Context, store storage.Storage, seg *segment.Segment, seed *Snapshot) (*Snapshot, error) {
	const op errors.Op = "snapshot.Replay"
	if seg.Checkpoint != nil && seed == nil {
		return nil, errors.E(op, seg.Table, errors.Internal, errors.Str("segment is anchored at a checkpoint but no seed was supplied"))
	}
	if seed != nil && seed.version != seg.BaseVersion {
		return nil, errors.E(op, seg.Table, errors.Internal,
			errors.Errorf("seed is at version %d, segment starts at %d", seed.version, seg.BaseVersion))
	}
	b := NewBuilder(seg.Table, seed)
	for _, cf := range seg.Commits {
		data, err := store.Get(ctx, cf.Ref)
		if err != nil {
			return nil, errors.E(op, seg.Table, cf.Version, err)
		}
		acts, err := action.ParseAll(data)
		if err != nil {
			return nil, errors.E(op, seg.Table, cf.Version, err)
		}
		for i := range acts {
			b.Apply(&acts[i], cf.Version)
		}
	}
	snap, err := b.Build(seg.Version)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// pvEqual reports whether two partition value maps are equal,
// treating nil maps as empty.
func pvEqual(a, b map[string]*string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if (av == nil) != (bv == nil) {
			return false
		}
		if av != nil && *av != *bv {
			return false
		}
	}
	return true
}
