// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checkpoint materializes snapshots into checkpoint artifacts,
// bounding the replay cost of long logs.
//
// A checkpoint for version V is equivalent to replaying the log from
// genesis to V: one or more shard files holding the state's actions,
// plus a small manifest published last. The manifest is immutable and
// created with a conditional put, so a reader never observes a
// half-written checkpoint and racing checkpointers admit one winner.
// Checkpoint writing is best-effort: a failure leaves the table fully
// usable through ordinary log replay.
package checkpoint // import "tablelog.io/checkpoint"

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"tablelog.io/action"
	"tablelog.io/errors"
	"tablelog.io/log"
	"tablelog.io/segment"
	"tablelog.io/snapshot"
	"tablelog.io/storage"
	"tablelog.io/tablelog"
)

// Policy decides when a checkpoint is due.
type Policy struct {
	// Interval materializes a checkpoint every Interval commits.
	// Zero disables automatic checkpoints.
	Interval int
}

// Due reports whether a checkpoint should be written after v was
// committed.
func (p Policy) Due(v tablelog.Version) bool {
	return p.Interval > 0 && v > 0 && int64(v)%int64(p.Interval) == 0
}

// Options tunes checkpoint writing.
type Options struct {
	// MaxActionsPerShard bounds a shard; larger states are split
	// across multiple shards written in parallel.
	MaxActionsPerShard int
}

const defaultMaxActionsPerShard = 50000

// Write materializes snap as a checkpoint and publishes its manifest.
// It is idempotent: if a checkpoint for snap's version already exists,
// any shards it is missing are filled in (shard content is a
// deterministic function of the state, so concurrent writers produce
// identical bytes) and the existing manifest is returned.
func Write(ctx context.Context, store storage.Storage, snap *snapshot.Snapshot, opts *Options) (*segment.Manifest, error) {
	const op errors.Op = "checkpoint.Write"
	table, v := snap.Table(), snap.Version()
	if v < 0 {
		return nil, errors.E(op, table, errors.Invalid, errors.Str("snapshot has no version"))
	}
	maxPerShard := defaultMaxActionsPerShard
	if opts != nil && opts.MaxActionsPerShard > 0 {
		maxPerShard = opts.MaxActionsPerShard
	}

	acts := stateActions(snap)

	// A manifest may already exist from an earlier or concurrent
	// attempt; its part count, not ours, governs the shard split.
	manifest := &segment.Manifest{
		Version:       v,
		Size:          int64(len(acts)),
		Parts:         (len(acts) + maxPerShard - 1) / maxPerShard,
		FormatVersion: segment.ManifestFormatVersion,
		CreatedTime:   time.Now().UnixMilli(),
	}
	if manifest.Parts < 1 {
		manifest.Parts = 1
	}
	existing, err := readManifest(ctx, store, table, v)
	if err != nil {
		return nil, errors.E(op, table, v, err)
	}
	if existing != nil {
		manifest = existing
	}

	if err := writeShards(ctx, store, table, manifest, acts); err != nil {
		return nil, errors.E(op, table, v, err)
	}

	if existing != nil {
		return existing, nil
	}
	data, err := manifest.Marshal()
	if err != nil {
		return nil, errors.E(op, table, v, err)
	}
	err = store.PutIfAbsent(ctx, segment.ManifestRef(table, v), data)
	if errors.Is(errors.Exist, err) {
		// Lost a checkpoint race; the winner's artifact is
		// content-equivalent.
		winner, rerr := readManifest(ctx, store, table, v)
		if rerr != nil || winner == nil {
			return nil, errors.E(op, table, v, err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, errors.E(op, table, v, err)
	}
	return manifest, nil
}

// readManifest returns the manifest for version v, or nil if none
// exists.
func readManifest(ctx context.Context, store storage.Storage, table tablelog.TablePath, v tablelog.Version) (*segment.Manifest, error) {
	data, err := store.Get(ctx, segment.ManifestRef(table, v))
	if errors.Is(errors.NotExist, err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return segment.ParseManifest(data)
}

// writeShards writes the shards the checkpoint is missing. Shard
// writes run in parallel; an already-present shard is left alone.
func writeShards(ctx context.Context, store storage.Storage, table tablelog.TablePath, m *segment.Manifest, acts []action.Action) error {
	per := (len(acts) + m.Parts - 1) / m.Parts
	if per < 1 {
		per = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for part := 1; part <= m.Parts; part++ {
		part := part
		lo := (part - 1) * per
		hi := lo + per
		if lo > len(acts) {
			lo = len(acts)
		}
		if hi > len(acts) {
			hi = len(acts)
		}
		shard := acts[lo:hi]
		g.Go(func() error {
			data, err := action.MarshalAll(shard)
			if err != nil {
				return err
			}
			err = store.PutIfAbsent(gctx, segment.ShardRef(table, m.Version, part, m.Parts), data)
			if err != nil && !errors.Is(errors.Exist, err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Read reconstructs the seed state from a resolved checkpoint. Shards
// are fetched in parallel and folded in part order. A missing shard
// yields IncompleteCheckpoint; decoding is tolerant of absent optional
// fields so older checkpoint formats remain readable.
func Read(ctx context.Context, store storage.Storage, table tablelog.TablePath, ck *segment.Checkpoint) (*snapshot.Snapshot, error) {
	const op errors.Op = "checkpoint.Read"
	v := ck.Manifest.Version
	shards := make([][]action.Action, len(ck.ShardRefs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range ck.ShardRefs {
		i, ref := i, ref
		g.Go(func() error {
			data, err := store.Get(gctx, ref)
			if errors.Is(errors.NotExist, err) {
				return errors.E(op, table, v, errors.IncompleteCheckpoint, err)
			}
			if err != nil {
				return errors.E(op, table, v, err)
			}
			acts, err := action.ParseAll(data)
			if err != nil {
				return errors.E(op, table, v, err)
			}
			shards[i] = acts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b := snapshot.NewBuilder(table, nil)
	for _, acts := range shards {
		for i := range acts {
			b.Apply(&acts[i], v)
		}
	}
	return b.Build(v)
}

// Maybe writes a checkpoint if the policy says one is due after snap's
// version. Failures are logged and swallowed: a missing checkpoint
// costs replay time, never correctness.
func Maybe(ctx context.Context, store storage.Storage, snap *snapshot.Snapshot, policy Policy, opts *Options) {
	if !policy.Due(snap.Version()) {
		return
	}
	if _, err := Write(ctx, store, snap, opts); err != nil {
		log.Info.Printf("checkpoint: table %s version %d: %v", snap.Table(), snap.Version(), err)
	}
}

// stateActions flattens a snapshot into the action sequence a replay
// of it would produce, in a deterministic order: protocol, metadata,
// domain metadata (removed entries included, so removals survive),
// transaction watermarks, then the active files sorted by path.
func stateActions(snap *snapshot.Snapshot) []action.Action {
	var acts []action.Action
	if p := snap.Protocol(); p != nil {
		acts = append(acts, action.Action{Protocol: p})
	}
	if m := snap.Metadata(); m != nil {
		acts = append(acts, action.Action{Metadata: m})
	}
	for _, d := range snap.DomainEntries() {
		d := d
		acts = append(acts, action.Action{DomainMetadata: &d})
	}
	txns := snap.Txns()
	apps := make([]tablelog.AppID, 0, len(txns))
	for app := range txns {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i] < apps[j] })
	for _, app := range apps {
		t := txns[app]
		acts = append(acts, action.Action{Txn: &t})
	}
	for _, a := range snap.Files() {
		acts = append(acts, action.Action{Add: a})
	}
	return acts
}
