// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package table ties the engine together behind a per-table handle:
// cached snapshot reads, transactional writes, and checkpoint
// maintenance.
package table // import "tablelog.io/table"

import (
	"context"
	"sync"

	"tablelog.io/action"
	"tablelog.io/cache"
	"tablelog.io/checkpoint"
	"tablelog.io/commit"
	"tablelog.io/errors"
	"tablelog.io/log"
	"tablelog.io/segment"
	"tablelog.io/snapshot"
	"tablelog.io/storage"
	"tablelog.io/tablelog"
)

// Options configures a Table handle.
type Options struct {
	// Store is the storage backend holding the table. Required.
	Store storage.Storage
	// CheckpointPolicy schedules automatic checkpoints after
	// commits. The zero policy disables them.
	CheckpointPolicy checkpoint.Policy
	// CheckpointOptions tunes checkpoint writing.
	CheckpointOptions *checkpoint.Options
	// CacheSize is the number of snapshots kept per table handle.
	CacheSize int
	// Commit configures the commit coordinator.
	Commit *commit.Options
}

const defaultCacheSize = 16

// Table is a handle on one table. It is safe for concurrent use.
type Table struct {
	path   tablelog.TablePath
	store  storage.Storage
	coord  *commit.Coordinator
	policy checkpoint.Policy
	ckopts *checkpoint.Options

	// snaps caches snapshots by version. A newer committed version
	// invalidates nothing: an old snapshot stays valid for readers
	// pinned to it.
	snaps *cache.LRU[tablelog.Version, *snapshot.Snapshot]

	mu     sync.Mutex
	latest *snapshot.Snapshot // newest snapshot observed

	checkpoints sync.WaitGroup // in-flight automatic checkpoints
}

// Open returns a handle on the table at path. The table need not
// exist yet; a first commit through Begin creates it.
func Open(path tablelog.TablePath, opts Options) (*Table, error) {
	const op errors.Op = "table.Open"
	if opts.Store == nil {
		return nil, errors.E(op, path, errors.Invalid, errors.Str("no storage backend"))
	}
	if path == "" {
		return nil, errors.E(op, errors.Invalid, errors.Str("empty table path"))
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Table{
		path:   path,
		store:  opts.Store,
		coord:  commit.New(opts.Store, path, opts.Commit),
		policy: opts.CheckpointPolicy,
		ckopts: opts.CheckpointOptions,
		snaps:  cache.NewLRU[tablelog.Version, *snapshot.Snapshot](size),
	}, nil
}

// Path returns the table's location.
func (t *Table) Path() tablelog.TablePath { return t.path }

// Snapshot returns the snapshot of the latest committed version.
func (t *Table) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	return t.load(ctx, tablelog.NoVersion)
}

// SnapshotAt returns the snapshot of the given version.
func (t *Table) SnapshotAt(ctx context.Context, v tablelog.Version) (*snapshot.Snapshot, error) {
	if snap, ok := t.snaps.Get(v); ok {
		return snap, nil
	}
	return t.load(ctx, v)
}

// load resolves and replays the segment for the requested version,
// seeding from a cached snapshot or a stored checkpoint when possible.
// An unreadable checkpoint is skipped, falling back to an older
// checkpoint or a full replay from genesis.
func (t *Table) load(ctx context.Context, max tablelog.Version) (*snapshot.Snapshot, error) {
	hintSnap := t.newestKnown(max)
	hint := tablelog.NoVersion
	if hintSnap != nil {
		hint = hintSnap.Version()
	}
	var skip map[tablelog.Version]bool
	for {
		seg, err := segment.Resolve(ctx, t.store, t.path, &segment.Opts{
			MaxVersion:      max,
			BaseVersion:     hint,
			SkipCheckpoints: skip,
		})
		if err != nil {
			return nil, err
		}
		var seed *snapshot.Snapshot
		switch {
		case seg.Checkpoint != nil:
			seed, err = checkpoint.Read(ctx, t.store, t.path, seg.Checkpoint)
			if err != nil {
				log.Info.Printf("table: %s: falling back past unreadable checkpoint at version %d: %v",
					t.path, seg.Checkpoint.Manifest.Version, err)
				if skip == nil {
					skip = make(map[tablelog.Version]bool)
				}
				skip[seg.Checkpoint.Manifest.Version] = true
				continue
			}
		case seg.BaseVersion != tablelog.NoVersion:
			seed = hintSnap
		}
		if seed == hintSnap && hintSnap != nil && len(seg.Commits) == 0 {
			return hintSnap, nil // already current
		}
		snap, err := snapshot.Replay(ctx, t.store, seg, seed)
		if err != nil {
			return nil, err
		}
		t.observe(snap)
		return snap, nil
	}
}

// newestKnown returns the newest snapshot this handle holds at or
// below max (or the newest at all when max is tablelog.NoVersion).
func (t *Table) newestKnown(max tablelog.Version) *snapshot.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil
	}
	if max != tablelog.NoVersion && t.latest.Version() > max {
		return nil
	}
	return t.latest
}

func (t *Table) observe(snap *snapshot.Snapshot) {
	t.snaps.Add(snap.Version(), snap)
	t.mu.Lock()
	if t.latest == nil || snap.Version() > t.latest.Version() {
		t.latest = snap
	}
	t.mu.Unlock()
}

// Tx is a transaction begun through a Table handle. Committing it
// also updates the handle's snapshot cache and schedules any due
// checkpoint. The builder methods mirror commit.Txn and return the
// Tx, so a chained build ends in this Commit, not the coordinator's.
type Tx struct {
	txn *commit.Txn
	t   *Table
}

// Begin starts a transaction against the latest committed version.
// On an uninitialized table the transaction starts from genesis and
// must supply metadata and protocol.
func (t *Table) Begin(ctx context.Context) (*Tx, error) {
	const op errors.Op = "table.Begin"
	base, err := t.Snapshot(ctx)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return &Tx{txn: t.coord.Begin(nil), t: t}, nil
		}
		return nil, errors.E(op, err)
	}
	return &Tx{txn: t.coord.Begin(base), t: t}, nil
}

// State returns the transaction's phase; see commit.Txn.State.
func (x *Tx) State() commit.State { return x.txn.State() }

// Add stages an add action.
func (x *Tx) Add(a *action.Add) *Tx {
	x.txn.Add(a)
	return x
}

// Remove stages a remove action.
func (x *Tx) Remove(r *action.Remove) *Tx {
	x.txn.Remove(r)
	return x
}

// SetMetadata stages a metadata action.
func (x *Tx) SetMetadata(m *action.Metadata) *Tx {
	x.txn.SetMetadata(m)
	return x
}

// SetProtocol stages a protocol action.
func (x *Tx) SetProtocol(p *action.Protocol) *Tx {
	x.txn.SetProtocol(p)
	return x
}

// PutDomainMetadata stages a domain metadata action.
func (x *Tx) PutDomainMetadata(d *action.DomainMetadata) *Tx {
	x.txn.PutDomainMetadata(d)
	return x
}

// RecordTxn stages an application transaction watermark.
func (x *Tx) RecordTxn(app tablelog.AppID, v int64) *Tx {
	x.txn.RecordTxn(app, v)
	return x
}

// DeclareRead adds a data path to the transaction's read footprint.
func (x *Tx) DeclareRead(p tablelog.DataPath) *Tx {
	x.txn.DeclareRead(p)
	return x
}

// WithOperation names the operation for commit provenance.
func (x *Tx) WithOperation(name string, params map[string]string) *Tx {
	x.txn.WithOperation(name, params)
	return x
}

// WithCommitInfo supplies explicit commit provenance.
func (x *Tx) WithCommitInfo(ci *action.CommitInfo) *Tx {
	x.txn.WithCommitInfo(ci)
	return x
}

// Commit commits the transaction; see commit.Txn.Commit.
func (x *Tx) Commit(ctx context.Context) (tablelog.Version, *snapshot.Snapshot, error) {
	v, snap, err := x.txn.Commit(ctx)
	if err != nil || snap == nil {
		return v, snap, err
	}
	x.t.observe(snap)
	x.t.maybeCheckpoint(snap)
	return v, snap, nil
}

// Checkpoint materializes the latest snapshot as a checkpoint now,
// regardless of policy.
func (t *Table) Checkpoint(ctx context.Context) error {
	const op errors.Op = "table.Checkpoint"
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	if _, err := checkpoint.Write(ctx, t.store, snap, t.ckopts); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// maybeCheckpoint runs the checkpoint policy in the background so
// commits never wait on checkpoint I/O. The write is detached from
// the committing caller's context: abandoning it is safe, but it
// should not be cancelled by a caller that is merely done committing.
func (t *Table) maybeCheckpoint(snap *snapshot.Snapshot) {
	if !t.policy.Due(snap.Version()) {
		return
	}
	t.checkpoints.Add(1)
	go func() {
		defer t.checkpoints.Done()
		checkpoint.Maybe(context.Background(), t.store, snap, t.policy, t.ckopts)
	}()
}

// Close waits for background checkpoint work to finish.
func (t *Table) Close() {
	t.checkpoints.Wait()
}
