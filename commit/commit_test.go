// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commit_test

import (
	"context"
	"testing"

	"tablelog.io/action"
	"tablelog.io/commit"
	"tablelog.io/errors"
	"tablelog.io/segment"
	"tablelog.io/snapshot"
	"tablelog.io/storage"
	"tablelog.io/storage/storagetest"
	"tablelog.io/tablelog"
)

const table = tablelog.TablePath("warehouse/events")

func schemaString(t *testing.T) string {
	t.Helper()
	s := &tablelog.Schema{Fields: []tablelog.SchemaField{
		tablelog.PrimitiveField("id", tablelog.Long, false),
	}}
	str, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return str
}

func metadata(t *testing.T) *action.Metadata {
	return &action.Metadata{ID: "tbl-1", SchemaString: schemaString(t), Format: action.DefaultFormat}
}

func protocol() *action.Protocol {
	return &action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}
}

func add(path string) *action.Add {
	return &action.Add{Path: tablelog.DataPath(path), Size: 1, ModificationTime: 1, DataChange: true}
}

func remove(path string) *action.Remove {
	return &action.Remove{Path: tablelog.DataPath(path), DataChange: true}
}

// initTable commits version 0 (metadata and protocol) and returns the
// resulting snapshot.
func initTable(t *testing.T, store storage.Storage) *snapshot.Snapshot {
	t.Helper()
	c := commit.New(store, table, nil)
	v, snap, err := c.Begin(nil).
		SetMetadata(metadata(t)).
		SetProtocol(protocol()).
		Commit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("first commit at version %d; want 0", v)
	}
	return snap
}

func TestCommitSequence(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	c := commit.New(s, table, nil)

	base := initTable(t, s)
	if base.Metadata() == nil || base.Protocol() == nil {
		t.Fatal("version 0 snapshot lacks metadata or protocol")
	}

	v, snapA, err := c.Begin(base).Add(add("a.parquet")).Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 || snapA.NumFiles() != 1 {
		t.Fatalf("v = %d, files = %d; want 1, 1", v, snapA.NumFiles())
	}

	v, snapB, err := c.Begin(snapA).Add(add("b.parquet")).Remove(remove("a.parquet")).Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("v = %d; want 2", v)
	}
	if _, ok := snapB.File("a.parquet"); ok {
		t.Error("a.parquet still active")
	}
	if _, ok := snapB.File("b.parquet"); !ok {
		t.Error("b.parquet not active")
	}

	// The log agrees with the returned snapshots.
	seg, err := segment.Resolve(ctx, s, table, nil)
	if err != nil {
		t.Fatal(err)
	}
	replayed, err := snapshot.Replay(ctx, s, seg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if replayed.Version() != 2 || replayed.NumFiles() != 1 {
		t.Fatalf("replayed version %d with %d files", replayed.Version(), replayed.NumFiles())
	}
}

func TestFirstCommitNeedsMetadataAndProtocol(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	c := commit.New(s, table, nil)

	txn := c.Begin(nil).Add(add("a.parquet"))
	_, _, err := txn.Commit(ctx)
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("got %v; want Invalid", err)
	}
	if txn.State() != commit.Failed {
		t.Errorf("state = %v; want failed", txn.State())
	}

	// A failed transaction cannot be committed again.
	_, _, err = txn.Commit(ctx)
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("second Commit: got %v; want Invalid", err)
	}
}

func TestCommitValidatesActions(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)
	c := commit.New(s, table, nil)

	_, _, err := c.Begin(base).Add(add("../escape.parquet")).Commit(ctx)
	if !errors.Is(errors.Invalid, err) {
		t.Fatalf("got %v; want Invalid", err)
	}
	// Nothing was written.
	if _, gerr := s.Get(ctx, segment.CommitRef(table, 1)); !errors.Is(errors.NotExist, gerr) {
		t.Errorf("commit file exists after validation failure (err %v)", gerr)
	}
}

// Two writers race from the same base; the loser's footprint is
// disjoint, so it rebases and lands on the next version.
func TestCommitRebase(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)
	c := commit.New(s, table, nil)

	fast := c.Begin(base).Add(add("fast.parquet"))
	slow := c.Begin(base).Add(add("slow.parquet"))

	if _, _, err := fast.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	v, snap, err := slow.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("rebased commit at version %d; want 2", v)
	}
	if slow.State() != commit.Committed {
		t.Errorf("state = %v; want committed", slow.State())
	}
	// The returned snapshot folds the winner's actions too.
	for _, p := range []tablelog.DataPath{"fast.parquet", "slow.parquet"} {
		if _, ok := snap.File(p); !ok {
			t.Errorf("%s not active in rebased snapshot", p)
		}
	}
}

func TestCommitConflict(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)
	c := commit.New(s, table, nil)

	if _, _, err := c.Begin(base).Add(add("x.parquet")).Commit(ctx); err != nil {
		t.Fatal(err)
	}

	// Both touch x.parquet: overlap, not contention.
	txn := c.Begin(base).Remove(remove("x.parquet"))
	_, _, err := txn.Commit(ctx)
	if !errors.Is(errors.ConcurrentModification, err) {
		t.Fatalf("got %v; want ConcurrentModification", err)
	}
	if txn.State() != commit.Failed {
		t.Errorf("state = %v; want failed", txn.State())
	}
}

func TestDeclareReadConflict(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)
	c := commit.New(s, table, nil)

	// The writer rewrites y.parquet; our transaction only read it,
	// but that read informed what we are committing.
	if _, _, err := c.Begin(base).Add(add("y.parquet")).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	_, _, err := c.Begin(base).Add(add("z.parquet")).DeclareRead("y.parquet").Commit(ctx)
	if !errors.Is(errors.ConcurrentModification, err) {
		t.Fatalf("got %v; want ConcurrentModification", err)
	}
}

func TestMetadataAndDomainConflicts(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)
	c := commit.New(s, table, nil)

	// Concurrent metadata changes always conflict.
	m := metadata(t)
	m.Name = "renamed"
	if _, _, err := c.Begin(base).SetMetadata(m).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	m2 := metadata(t)
	m2.Name = "other"
	if _, _, err := c.Begin(base).SetMetadata(m2).Commit(ctx); !errors.Is(errors.ConcurrentModification, err) {
		t.Fatalf("metadata: got %v; want ConcurrentModification", err)
	}

	// Same domain conflicts; different domains do not.
	base2, err := latest(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Begin(base2).PutDomainMetadata(&action.DomainMetadata{Domain: "a", Configuration: "1"}).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Begin(base2).PutDomainMetadata(&action.DomainMetadata{Domain: "a", Configuration: "2"}).Commit(ctx); !errors.Is(errors.ConcurrentModification, err) {
		t.Fatalf("domain: got %v; want ConcurrentModification", err)
	}
	if _, _, err := c.Begin(base2).PutDomainMetadata(&action.DomainMetadata{Domain: "b", Configuration: "1"}).Commit(ctx); err != nil {
		t.Fatalf("disjoint domain: %v", err)
	}
}

func TestAppIDConflict(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)
	c := commit.New(s, table, nil)

	if _, _, err := c.Begin(base).Add(add("a.parquet")).RecordTxn("loader", 1).Commit(ctx); err != nil {
		t.Fatal(err)
	}
	// Same app id: the idempotence watermark would be lost on rebase.
	if _, _, err := c.Begin(base).Add(add("b.parquet")).RecordTxn("loader", 2).Commit(ctx); !errors.Is(errors.ConcurrentModification, err) {
		t.Fatalf("got %v; want ConcurrentModification", err)
	}
	// A different app id rebases cleanly.
	if _, _, err := c.Begin(base).Add(add("c.parquet")).RecordTxn("backfill", 1).Commit(ctx); err != nil {
		t.Fatalf("disjoint app: %v", err)
	}
}

func latest(ctx context.Context, store storage.Storage) (*snapshot.Snapshot, error) {
	seg, err := segment.Resolve(ctx, store, table, nil)
	if err != nil {
		return nil, err
	}
	return snapshot.Replay(ctx, store, seg, nil)
}

func TestRetriesExceeded(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)

	// Every attempt loses the slot to a freshly injected, disjoint
	// commit, so the transaction rebases until the budget runs out.
	n := 0
	faulty := storagetest.WithFaults(s, &storagetest.Faults{
		Put: func(ref string) error {
			if v, kind, _, _, ok := segment.ParseRef(ref); ok && kind == segment.KindCommit {
				n++
				// Steal every slot, each time with a new path so the
				// footprints stay disjoint.
				s.Put(ref, []byte(`{"add":{"path":"thief-`+v.String()+`.parquet","partitionValues":{},"size":1,"modificationTime":1,"dataChange":true}}`+"\n"))
			}
			return nil
		},
	})

	c := commit.New(faulty, table, &commit.Options{MaxRetries: 3})
	txn := c.Begin(base).Add(add("ours.parquet"))
	_, _, err := txn.Commit(ctx)
	if !errors.Is(errors.RetriesExceeded, err) {
		t.Fatalf("got %v; want RetriesExceeded", err)
	}
	if txn.State() != commit.Failed {
		t.Errorf("state = %v; want failed", txn.State())
	}
	if n < 3 {
		t.Errorf("only %d attempts before giving up", n)
	}
}

func TestUnsupportedProtocol(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	c := commit.New(s, table, nil)

	// A table demanding a future writer version refuses before any
	// storage write.
	_, snap, err := c.Begin(nil).
		SetMetadata(metadata(t)).
		SetProtocol(&action.Protocol{MinReaderVersion: 1, MinWriterVersion: 2}).
		Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	puts := 0
	faulty := storagetest.WithFaults(s, &storagetest.Faults{
		Put: func(string) error { puts++; return nil },
	})
	c2 := commit.New(faulty, table, &commit.Options{
		Capabilities: &commit.Capabilities{ReaderVersion: 1, WriterVersion: 1},
	})
	_, _, err = c2.Begin(snap).Add(add("a.parquet")).Commit(ctx)
	if !errors.Is(errors.UnsupportedProtocol, err) {
		t.Fatalf("got %v; want UnsupportedProtocol", err)
	}
	if puts != 0 {
		t.Errorf("%d puts before the protocol gate", puts)
	}

	// Staging an unsupported protocol upgrade is refused the same way.
	c3 := commit.New(faulty, table, nil)
	_, _, err = c3.Begin(snap).SetProtocol(&action.Protocol{MinReaderVersion: 1, MinWriterVersion: 99}).Commit(ctx)
	if !errors.Is(errors.UnsupportedProtocol, err) {
		t.Fatalf("staged upgrade: got %v; want UnsupportedProtocol", err)
	}
	if puts != 0 {
		t.Errorf("%d puts before the protocol gate", puts)
	}
}

func TestCapabilityFeatures(t *testing.T) {
	caps := commit.Capabilities{
		ReaderVersion: 3, WriterVersion: 7,
		ReaderFeatures: []string{"deletionVectors"},
		WriterFeatures: []string{"deletionVectors"},
	}
	ok := &action.Protocol{
		MinReaderVersion: 3, MinWriterVersion: 7,
		ReaderFeatures: []string{"deletionVectors"},
		WriterFeatures: []string{"deletionVectors"},
	}
	if err := caps.Supports(ok); err != nil {
		t.Errorf("Supports(%+v) = %v", ok, err)
	}
	bad := &action.Protocol{
		MinReaderVersion: 3, MinWriterVersion: 7,
		ReaderFeatures: []string{"deletionVectors"},
		WriterFeatures: []string{"timeTravelWrites"},
	}
	if err := caps.Supports(bad); !errors.Is(errors.UnsupportedProtocol, err) {
		t.Errorf("Supports(%+v) = %v; want UnsupportedProtocol", bad, err)
	}
	if err := caps.Supports(nil); err != nil {
		t.Errorf("Supports(nil) = %v", err)
	}
}

// A put whose response is lost must not be retried blindly: the write
// may have landed. The coordinator re-reads the slot and recognizes
// its own payload.
func TestLostPutResponse(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Memory()
	base := initTable(t, s)

	lost := false
	faulty := storagetest.WithFaults(s, &storagetest.Faults{
		LosePut: func(ref string) bool {
			if _, kind, _, _, ok := segment.ParseRef(ref); ok && kind == segment.KindCommit && !lost {
				lost = true
				return true
			}
			return false
		},
	})
	c := commit.New(faulty, table, nil)
	v, snap, err := c.Begin(base).Add(add("a.parquet")).Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !lost {
		t.Fatal("fault was never injected")
	}
	if v != 1 || snap.NumFiles() != 1 {
		t.Fatalf("v = %d, files = %d; want 1, 1", v, snap.NumFiles())
	}
	// Exactly one commit landed.
	if _, err := s.Get(ctx, segment.CommitRef(table, 2)); !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected duplicate commit (err %v)", err)
	}
}
