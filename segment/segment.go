// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package segment

import (
	"context"
	"sort"
	"time"

	"tablelog.io/errors"
	"tablelog.io/log"
	"tablelog.io/storage"
	"tablelog.io/tablelog"
)

// Opts controls resolution. The zero value is not meaningful because
// version 0 is a real version; construct with NewOpts and override.
type Opts struct {
	// MaxVersion is the target version, or tablelog.NoVersion for
	// the latest committed version.
	MaxVersion tablelog.Version
	// BaseVersion is the version of a snapshot the caller already
	// holds, or tablelog.NoVersion. When no newer usable checkpoint
	// exists, the segment starts just after it.
	BaseVersion tablelog.Version
	// NoCheckpoint forces a full replay from genesis, ignoring all
	// checkpoints.
	NoCheckpoint bool
	// SkipCheckpoints names checkpoint versions to ignore, used to
	// fall back past a checkpoint that turned out to be unreadable.
	SkipCheckpoints map[tablelog.Version]bool
}

// NewOpts returns Opts that resolve the latest version with no prior
// snapshot.
func NewOpts() *Opts {
	return &Opts{MaxVersion: tablelog.NoVersion, BaseVersion: tablelog.NoVersion}
}

// CommitFile names one commit file of a segment.
type CommitFile struct {
	Version  tablelog.Version
	Ref      string
	Size     int64
	Modified time.Time
}

// Checkpoint names a stored checkpoint a segment starts from: its
// manifest and the complete, ordered set of shard refs.
type Checkpoint struct {
	Manifest    *Manifest
	ManifestRef string
	ShardRefs   []string // index i holds part i+1
	Written     time.Time
}

// A Segment is the minimal set of log files needed to reconstruct the
// table state at Version, in replay order: the seed state at
// BaseVersion (a stored checkpoint, a caller-held snapshot, or genesis
// when BaseVersion is tablelog.NoVersion) followed by Commits, which
// span exactly (BaseVersion, Version].
type Segment struct {
	Table       tablelog.TablePath
	Version     tablelog.Version
	BaseVersion tablelog.Version
	Checkpoint  *Checkpoint
	Commits     []CommitFile
}

// Resolve lists the table's log directory and determines the segment
// for the requested version. A nil opts resolves the latest version.
//
// Failures follow the log-integrity taxonomy: LogGap when a commit
// below the target is missing, IncompleteCheckpoint when resolution
// depends on a checkpoint whose shard set is incomplete, NotExist when
// an explicitly requested version was never committed or the table has
// no log at all. An unreadable or incomplete checkpoint that does not
// block resolution is skipped with a warning, falling back to the next
// older checkpoint or to genesis.
func Resolve(ctx context.Context, store storage.Storage, table tablelog.TablePath, opts *Opts) (*Segment, error) {
	const op errors.Op = "segment.Resolve"
	if opts == nil {
		opts = NewOpts()
	}
	bound := opts.MaxVersion

	infos, err := store.List(ctx, LogPrefix(table))
	if err != nil {
		return nil, errors.E(op, table, err)
	}

	commits := make(map[tablelog.Version]storage.ObjInfo)
	manifests := make(map[tablelog.Version]storage.ObjInfo)
	// shard refs by version, then declared part count, then part
	shards := make(map[tablelog.Version]map[int]map[int]string)
	for _, fi := range infos {
		v, kind, part, count, ok := ParseRef(fi.Ref)
		if !ok {
			continue // not part of the log layout
		}
		switch kind {
		case KindCommit:
			commits[v] = fi
		case KindManifest:
			manifests[v] = fi
		case KindShard:
			if shards[v] == nil {
				shards[v] = make(map[int]map[int]string)
			}
			if shards[v][count] == nil {
				shards[v][count] = make(map[int]string)
			}
			shards[v][count][part] = fi.Ref
		}
	}

	// Base snapshot hint applies only when it does not overshoot an
	// explicitly bounded read.
	baseHint := opts.BaseVersion
	if baseHint != tablelog.NoVersion && bound != tablelog.NoVersion && baseHint > bound {
		baseHint = tablelog.NoVersion
	}

	ck, sawIncomplete := chooseCheckpoint(ctx, store, table, opts, bound, baseHint, manifests, shards)

	base := tablelog.NoVersion
	if ck != nil {
		base = ck.Manifest.Version
	}
	if baseHint != tablelog.NoVersion && baseHint >= base {
		// The caller's snapshot is at least as new as any usable
		// checkpoint; replaying forward from it is cheaper.
		base = baseHint
		ck = nil
	}

	seg := &Segment{Table: table, BaseVersion: base, Checkpoint: ck}

	if bound != tablelog.NoVersion {
		for v := base + 1; v <= bound; v++ {
			if _, ok := commits[v]; ok {
				continue
			}
			if anyCommitAbove(commits, v) {
				return nil, errors.E(op, table, v, errors.LogGap, errors.Str("missing commit file"))
			}
			return nil, errors.E(op, table, bound, errors.NotExist, errors.Str("version does not exist"))
		}
		seg.Version = bound
	} else {
		target := base
		for {
			if _, ok := commits[target+1]; !ok {
				break
			}
			target++
		}
		if target == tablelog.NoVersion {
			// Nothing contiguous from genesis.
			if sawIncomplete {
				return nil, errors.E(op, table, errors.IncompleteCheckpoint, errors.Str("no complete checkpoint and no contiguous log from genesis"))
			}
			if len(commits) > 0 {
				return nil, errors.E(op, table, tablelog.Version(0), errors.LogGap, errors.Str("missing commit file"))
			}
			return nil, errors.E(op, table, errors.NotExist, errors.Str("table has no log entries"))
		}
		seg.Version = target
	}

	for v := base + 1; v <= seg.Version; v++ {
		fi := commits[v]
		seg.Commits = append(seg.Commits, CommitFile{Version: v, Ref: fi.Ref, Size: fi.Size, Modified: fi.Modified})
	}
	return seg, nil
}

// chooseCheckpoint picks the newest usable checkpoint at or below
// bound, reading manifest candidates newest first. It reports whether
// any candidate was skipped for an incomplete shard set.
func chooseCheckpoint(ctx context.Context, store storage.Storage, table tablelog.TablePath, opts *Opts, bound, baseHint tablelog.Version, manifests map[tablelog.Version]storage.ObjInfo, shards map[tablelog.Version]map[int]map[int]string) (*Checkpoint, bool) {
	if opts.NoCheckpoint {
		return nil, false
	}
	var versions []tablelog.Version
	for v := range manifests {
		if bound != tablelog.NoVersion && v > bound {
			continue
		}
		if opts.SkipCheckpoints[v] {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	sawIncomplete := false
	for _, v := range versions {
		if baseHint != tablelog.NoVersion && v <= baseHint {
			// The caller's snapshot is newer than every remaining
			// candidate; none of them can help.
			break
		}
		fi := manifests[v]
		data, err := store.Get(ctx, fi.Ref)
		if err != nil {
			log.Info.Printf("segment: skipping unreadable checkpoint manifest %s: %v", fi.Ref, err)
			continue
		}
		m, err := ParseManifest(data)
		if err != nil || m.Version != v {
			log.Info.Printf("segment: skipping malformed checkpoint manifest %s: %v", fi.Ref, err)
			continue
		}
		refs, complete := completeShards(shards[v], m.Parts)
		if !complete {
			log.Info.Printf("segment: skipping checkpoint at version %d: incomplete shard set", v)
			sawIncomplete = true
			continue
		}
		return &Checkpoint{
			Manifest:    m,
			ManifestRef: fi.Ref,
			ShardRefs:   refs,
			Written:     fi.Modified,
		}, sawIncomplete
	}
	return nil, sawIncomplete
}

// completeShards returns the ordered shard refs for a checkpoint
// declaring parts shards, or complete=false if any part is missing.
// Shards written with a different declared part count belong to a
// different (likely abandoned) checkpoint attempt and are ignored.
func completeShards(byCount map[int]map[int]string, parts int) (refs []string, complete bool) {
	group := byCount[parts]
	if len(group) < parts {
		return nil, false
	}
	refs = make([]string, parts)
	for i := 1; i <= parts; i++ {
		ref, ok := group[i]
		if !ok {
			return nil, false
		}
		refs[i-1] = ref
	}
	return refs, true
}

func anyCommitAbove(commits map[tablelog.Version]storage.ObjInfo, v tablelog.Version) bool {
	for cv := range commits {
		if cv > v {
			return true
		}
	}
	return false
}
