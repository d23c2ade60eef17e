// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cache

import "testing"

func TestLRU(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Add("one", 1)
	c.Add("two", 2)
	if v, ok := c.Get("one"); !ok || v != 1 {
		t.Errorf(`Get("one") = %v, %t; want 1, true`, v, ok)
	}
	// "two" is now the oldest; adding a third evicts it.
	c.Add("three", 3)
	if _, ok := c.Get("two"); ok {
		t.Error(`"two" should have been evicted`)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d; want 2", c.Len())
	}
}

func TestLRUUpdate(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Add("one", 1)
	c.Add("one", 11)
	if v, _ := c.Get("one"); v != 11 {
		t.Errorf(`Get("one") = %d; want 11`, v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d; want 1", c.Len())
	}
}

func TestLRURemove(t *testing.T) {
	c := NewLRU[string, int](4)
	c.Add("one", 1)
	if !c.Remove("one") {
		t.Error("Remove returned false for a present key")
	}
	if c.Remove("one") {
		t.Error("Remove returned true for an absent key")
	}
	if _, ok := c.Get("one"); ok {
		t.Error("removed key still present")
	}
}

func TestLRUOrder(t *testing.T) {
	c := NewLRU[int, string](4)
	c.Add(1, "a")
	c.Add(2, "b")
	c.Add(3, "c")
	if k, v, ok := c.Newest(); !ok || k != 3 || v != "c" {
		t.Errorf("Newest = %v, %v, %t; want 3, c, true", k, v, ok)
	}
	// Touching 1 makes it newest; 2 becomes oldest.
	c.Get(1)
	if k, _, ok := c.RemoveOldest(); !ok || k != 2 {
		t.Errorf("RemoveOldest = %v; want 2", k)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d; want 2", c.Len())
	}
}
