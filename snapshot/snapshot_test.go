// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package snapshot_test

import (
	"context"
	"reflect"
	"testing"

	"tablelog.io/action"
	"tablelog.io/errors"
	"tablelog.io/segment"
	"tablelog.io/snapshot"
	"tablelog.io/storage/storagetest"
	"tablelog.io/tablelog"
)

const table = tablelog.TablePath("warehouse/events")

func testSchema(t *testing.T) string {
	t.Helper()
	s := &tablelog.Schema{Fields: []tablelog.SchemaField{
		tablelog.PrimitiveField("id", tablelog.Long, false),
		tablelog.PrimitiveField("year", tablelog.Long, true),
		tablelog.PrimitiveField("city", tablelog.String, true),
	}}
	str, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return str
}

func metadata(t *testing.T) *action.Metadata {
	return &action.Metadata{
		ID:               "tbl-1",
		SchemaString:     testSchema(t),
		PartitionColumns: []string{"year", "city"},
		Format:           action.DefaultFormat,
	}
}

func protocol() *action.Protocol {
	return &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}
}

func add(path string, pv map[string]*string) *action.Add {
	return &action.Add{Path: tablelog.DataPath(path), PartitionValues: pv, Size: 1, ModificationTime: 1, DataChange: true}
}

func remove(path string) *action.Remove {
	return &action.Remove{Path: tablelog.DataPath(path), DataChange: true}
}

// putCommit writes the actions as the commit file for version v.
func putCommit(t *testing.T, s *storagetest.Mem, v tablelog.Version, acts ...action.Action) {
	t.Helper()
	data, err := action.MarshalAll(acts)
	if err != nil {
		t.Fatal(err)
	}
	s.Put(segment.CommitRef(table, v), data)
}

func replayLatest(t *testing.T, s *storagetest.Mem) *snapshot.Snapshot {
	t.Helper()
	ctx := context.Background()
	seg, err := segment.Resolve(ctx, s, table, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := snapshot.Replay(ctx, s, seg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func activePaths(snap *snapshot.Snapshot) []tablelog.DataPath {
	var paths []tablelog.DataPath
	for _, a := range snap.Files() {
		paths = append(paths, a.Path)
	}
	return paths
}

func TestReplayFoldRules(t *testing.T) {
	s := storagetest.Memory()
	putCommit(t, s, 0,
		action.Action{Protocol: protocol()},
		action.Action{Metadata: metadata(t)},
	)
	putCommit(t, s, 1,
		action.Action{Add: add("a.parquet", nil)},
		action.Action{Add: add("b.parquet", nil)},
	)
	putCommit(t, s, 2,
		action.Action{Remove: remove("a.parquet")},
		action.Action{Add: add("c.parquet", nil)},
	)

	snap := replayLatest(t, s)
	if snap.Version() != 2 {
		t.Fatalf("Version = %d; want 2", snap.Version())
	}
	want := []tablelog.DataPath{"b.parquet", "c.parquet"}
	if got := activePaths(snap); !reflect.DeepEqual(got, want) {
		t.Errorf("active files = %v; want %v", got, want)
	}
	if snap.Metadata() == nil || snap.Metadata().ID != "tbl-1" {
		t.Errorf("metadata = %+v", snap.Metadata())
	}
	if snap.Schema() == nil || snap.Schema().Field("city") == nil {
		t.Errorf("schema = %+v", snap.Schema())
	}
	if snap.Degraded() {
		t.Errorf("unexpected warnings: %v", snap.Warnings())
	}

	// Remove then re-add in later commits leaves the file active.
	putCommit(t, s, 3, action.Action{Remove: remove("b.parquet")})
	putCommit(t, s, 4, action.Action{Add: add("b.parquet", nil)})
	snap = replayLatest(t, s)
	if _, ok := snap.File("b.parquet"); !ok {
		t.Error("re-added file is not active")
	}
}

func TestReplayLastWriterWins(t *testing.T) {
	s := storagetest.Memory()
	m1 := metadata(t)
	m2 := metadata(t)
	m2.Name = "renamed"
	putCommit(t, s, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: m1})
	putCommit(t, s, 1,
		action.Action{Metadata: m2},
		action.Action{Txn: &action.Txn{AppID: "loader", Version: 5}},
		action.Action{DomainMetadata: &action.DomainMetadata{Domain: "compaction", Configuration: "v1"}},
	)
	putCommit(t, s, 2,
		action.Action{Txn: &action.Txn{AppID: "loader", Version: 6}},
		action.Action{Txn: &action.Txn{AppID: "backfill", Version: 1}},
		action.Action{DomainMetadata: &action.DomainMetadata{Domain: "compaction", Configuration: "v2"}},
	)

	snap := replayLatest(t, s)
	if snap.Metadata().Name != "renamed" {
		t.Errorf("metadata name = %q; want renamed", snap.Metadata().Name)
	}
	if v, ok := snap.TxnVersion("loader"); !ok || v != 6 {
		t.Errorf(`TxnVersion("loader") = %d, %t; want 6, true`, v, ok)
	}
	if v, ok := snap.TxnVersion("backfill"); !ok || v != 1 {
		t.Errorf(`TxnVersion("backfill") = %d, %t; want 1, true`, v, ok)
	}
	if _, ok := snap.TxnVersion("absent"); ok {
		t.Error("TxnVersion for unknown app should report false")
	}
	if cfg, ok := snap.DomainMetadata("compaction"); !ok || cfg != "v2" {
		t.Errorf(`DomainMetadata("compaction") = %q, %t; want v2, true`, cfg, ok)
	}
}

func TestReplayDomainRemoval(t *testing.T) {
	s := storagetest.Memory()
	putCommit(t, s, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: metadata(t)})
	putCommit(t, s, 1, action.Action{DomainMetadata: &action.DomainMetadata{Domain: "retention", Configuration: "30d"}})
	putCommit(t, s, 2, action.Action{DomainMetadata: &action.DomainMetadata{Domain: "retention", Removed: true}})

	snap := replayLatest(t, s)
	if _, ok := snap.DomainMetadata("retention"); ok {
		t.Error("removed domain still visible")
	}
	// The tombstone itself is preserved for checkpointing.
	entries := snap.DomainEntries()
	if len(entries) != 1 || entries[0].Domain != "retention" || !entries[0].Removed {
		t.Errorf("DomainEntries = %+v", entries)
	}
}

// A remove whose recorded partition values disagree with the add it
// removes signals log damage: the removal is honored, but the
// snapshot is marked degraded.
func TestReplayPartitionMismatchWarning(t *testing.T) {
	year := "2020"
	other := "1999"
	s := storagetest.Memory()
	putCommit(t, s, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: metadata(t)})
	putCommit(t, s, 1, action.Action{Add: add("a.parquet", map[string]*string{"year": &year})})
	putCommit(t, s, 2, action.Action{Remove: &action.Remove{
		Path:            "a.parquet",
		DataChange:      true,
		PartitionValues: map[string]*string{"year": &other},
	}})

	snap := replayLatest(t, s)
	if _, ok := snap.File("a.parquet"); ok {
		t.Error("mismatched remove was not applied")
	}
	if !snap.Degraded() {
		t.Fatal("snapshot is not degraded")
	}
	w := snap.Warnings()[0]
	if w.Version != 2 || w.Path != "a.parquet" {
		t.Errorf("warning = %+v", w)
	}

	// A remove carrying no partition values is not checked.
	s2 := storagetest.Memory()
	putCommit(t, s2, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: metadata(t)})
	putCommit(t, s2, 1, action.Action{Add: add("a.parquet", map[string]*string{"year": &year})})
	putCommit(t, s2, 2, action.Action{Remove: remove("a.parquet")})
	if snap := replayLatest(t, s2); snap.Degraded() {
		t.Errorf("unexpected warnings: %v", snap.Warnings())
	}
}

func TestReplayDeterministic(t *testing.T) {
	s := storagetest.Memory()
	putCommit(t, s, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: metadata(t)})
	putCommit(t, s, 1, action.Action{Add: add("a.parquet", nil)}, action.Action{Add: add("b.parquet", nil)})
	putCommit(t, s, 2, action.Action{Remove: remove("a.parquet")})

	first := replayLatest(t, s)
	second := replayLatest(t, s)
	if first.Version() != second.Version() {
		t.Fatalf("versions differ: %d, %d", first.Version(), second.Version())
	}
	if !reflect.DeepEqual(activePaths(first), activePaths(second)) {
		t.Errorf("file sets differ: %v, %v", activePaths(first), activePaths(second))
	}
	if !reflect.DeepEqual(first.Txns(), second.Txns()) {
		t.Errorf("txns differ")
	}
}

func TestReplayIncrementalFromSeed(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	putCommit(t, s, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: metadata(t)})
	putCommit(t, s, 1, action.Action{Add: add("a.parquet", nil)})

	seed := replayLatest(t, s)

	putCommit(t, s, 2, action.Action{Add: add("b.parquet", nil)})
	opts := segment.NewOpts()
	opts.BaseVersion = seed.Version()
	seg, err := segment.Resolve(ctx, s, table, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(seg.Commits) != 1 {
		t.Fatalf("incremental segment has %d commits; want 1", len(seg.Commits))
	}
	snap, err := snapshot.Replay(ctx, s, seg, seed)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version() != 2 || snap.BaseVersion() != 1 || snap.NumFiles() != 2 {
		t.Fatalf("snapshot = version %d, base %d, %d files", snap.Version(), snap.BaseVersion(), snap.NumFiles())
	}
	// The seed is untouched.
	if seed.Version() != 1 || seed.NumFiles() != 1 {
		t.Errorf("seed mutated: version %d, %d files", seed.Version(), seed.NumFiles())
	}

	// A seed at the wrong version is an internal inconsistency.
	putCommit(t, s, 3, action.Action{Add: add("c.parquet", nil)})
	seg, err = segment.Resolve(ctx, s, table, opts)
	if err != nil {
		t.Fatal(err)
	}
	_, err = snapshot.Replay(ctx, s, seg, snap) // snap is at 2, segment starts at 1
	if !errors.Is(errors.Internal, err) {
		t.Fatalf("got %v; want Internal", err)
	}
}

func TestReplayMalformedCommit(t *testing.T) {
	s := storagetest.Memory()
	putCommit(t, s, 0, action.Action{Protocol: protocol()}, action.Action{Metadata: metadata(t)})
	s.Put(segment.CommitRef(table, 1), []byte("not json\n"))

	ctx := context.Background()
	seg, err := segment.Resolve(ctx, s, table, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = snapshot.Replay(ctx, s, seg, nil)
	if !errors.Is(errors.MalformedAction, err) {
		t.Fatalf("got %v; want MalformedAction", err)
	}
}
