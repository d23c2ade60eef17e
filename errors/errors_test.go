// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"fmt"
	"testing"

	"tablelog.io/tablelog"
)

const (
	table = tablelog.TablePath("warehouse/events")
	op    = Op("segment.Resolve")
)

func TestDebugString(t *testing.T) {
	// Changing the error message is an API change: users may parse it.
	e := E(op, table, tablelog.Version(7), LogGap, Str("missing commit file"))
	want := "segment.Resolve: warehouse/events, version 7: gap in transaction log: missing commit file"
	if e.Error() != want {
		t.Errorf("got %q; want %q", e, want)
	}
}

func TestSeparator(t *testing.T) {
	defer func(prev string) { Separator = prev }(Separator)
	Separator = ":: "

	// Same pattern as above but with a custom separator.
	e1 := E(Op("commit.Txn.Commit"), table, ConcurrentModification, Str("concurrent commit touched path p"))
	e2 := E(op, E(e1))
	want := "segment.Resolve: concurrent modification:: commit.Txn.Commit: warehouse/events: concurrent commit touched path p"
	if e2.Error() != want {
		t.Errorf("got %q; want %q", e2, want)
	}
}

func TestDoesNotChangePreviousError(t *testing.T) {
	err := E(NotExist)
	_ = E(op, err)
	expected := "item does not exist"
	if err.Error() != expected {
		t.Fatalf("Expected %q, got %q", expected, err)
	}
	// Wrapping copied err; the original keeps its kind.
	if kind := err.(*Error).Kind; kind != NotExist {
		t.Fatalf("Expected kind %v, got %v", NotExist, kind)
	}
}

func TestNoArgs(t *testing.T) {
	defer func() {
		err := recover()
		if err != nil {
			t.Fatal("E() panicked")
		}
	}()
	err := E()
	if err == nil {
		t.Fatal("E() returned nil")
	}
}

func TestKindPullUp(t *testing.T) {
	inner := E(TransientIO, Str("connection reset"))
	outer := E(op, table, inner)
	if !Is(TransientIO, outer) {
		t.Errorf("outer error lost the inner kind: %v", outer)
	}
	if outer.(*Error).Kind != TransientIO {
		t.Errorf("kind was not pulled up: %v", outer.(*Error).Kind)
	}
}

type matchTest struct {
	err1, err2 error
	matched    bool
}

var matchTests = []matchTest{
	// Errors not of type *Error fail outright.
	{nil, nil, false},
	{Str("something"), Str("something"), false},
	{E(NotExist), Str("something"), false},
	// Success. The empty error matches everything.
	{E(op), E(op), true},
	{&Error{}, &Error{}, true},
	{&Error{}, E(op), true},
	// Mismatch.
	{E(op), E(Op("commit.Txn.Commit")), false},
	{E(op, Str("something")), E(op), false},
	{E(tablelog.Version(3)), E(tablelog.Version(4)), false},
	// Wrapped and nested *Error values.
	{E(op, table, LogGap), E(op, table, tablelog.Version(2), LogGap, Str("missing commit file")), true},
	{E(op, E(table, LogGap)), E(op, E(table, tablelog.Version(2), LogGap)), true},
	{E(op, table, LogGap), E(op, table, IncompleteCheckpoint), false},
}

func TestMatch(t *testing.T) {
	for _, test := range matchTests {
		matched := Match(test.err1, test.err2)
		if matched != test.matched {
			t.Errorf("Match(%q, %q)=%t; want %t", test.err1, test.err2, matched, test.matched)
		}
	}
}

func TestIs(t *testing.T) {
	if Is(ConcurrentModification, nil) {
		t.Error("Is(nil) returned true")
	}
	if Is(ConcurrentModification, Str("plain")) {
		t.Error("Is matched a non-*Error")
	}
	err := E(op, table, RetriesExceeded, Str("gave up"))
	if !Is(RetriesExceeded, err) {
		t.Errorf("Is(RetriesExceeded, %v) = false", err)
	}
	if Is(ConcurrentModification, err) {
		t.Errorf("Is(ConcurrentModification, %v) = true", err)
	}
	// Kind in a nested error is found through Other wrappers.
	wrapped := E(Op("table.Open"), E(op, UnsupportedProtocol))
	if !Is(UnsupportedProtocol, wrapped) {
		t.Errorf("Is did not find nested kind in %v", wrapped)
	}
}

func TestUnwrap(t *testing.T) {
	inner := Str("boom")
	err := E(op, inner)
	if got := err.(*Error).Unwrap(); got != inner {
		t.Errorf("Unwrap = %v; want %v", got, inner)
	}
}

func ExampleError() {
	defer func(prev string) { Separator = prev }(Separator)
	Separator = ":\n\t"
	e1 := E(Op("snapshot.Replay"), tablelog.TablePath("warehouse/events"), tablelog.Version(4), MalformedAction)
	e2 := E(Op("table.Open"), e1)
	fmt.Println(e2)
	// Output:
	// table.Open: malformed action:
	//	snapshot.Replay: warehouse/events, version 4
}
