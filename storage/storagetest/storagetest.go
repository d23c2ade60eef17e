// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storagetest implements simple types and utility functions to
// help test implementations and consumers of storage.Storage.
package storagetest // import "tablelog.io/storage/storagetest"

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tablelog.io/errors"
	"tablelog.io/storage"
)

// Memory returns a storage.Storage implementation that stores data in
// memory. It is safe for concurrent use.
func Memory() *Mem {
	return &Mem{
		m:   make(map[string][]byte),
		mod: make(map[string]time.Time),
	}
}

// Mem is an in-memory storage backend. Beyond the storage.Storage
// interface it offers Put, which overwrites unconditionally, so tests
// can fabricate arbitrary (even corrupt) log states.
type Mem struct {
	mu  sync.RWMutex
	m   map[string][]byte
	mod map[string]time.Time

	clock time.Time // synthetic modification clock
}

var _ storage.Storage = (*Mem)(nil)

// now returns a strictly increasing synthetic time, so tests that
// depend on modification-time ordering are deterministic.
func (m *Mem) now() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// List implements storage.Storage.
func (m *Mem) List(ctx context.Context, prefix string) ([]storage.ObjInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E(errors.TransientIO, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []storage.ObjInfo
	for ref, b := range m.m {
		if !strings.HasPrefix(ref, prefix) {
			continue
		}
		infos = append(infos, storage.ObjInfo{Ref: ref, Size: int64(len(b)), Modified: m.mod[ref]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Ref < infos[j].Ref })
	return infos, nil
}

// Get implements storage.Storage.
func (m *Mem) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.E(errors.TransientIO, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.m[ref]
	if !ok {
		return nil, errors.E(errors.NotExist, errors.Str(ref))
	}
	return append([]byte{}, b...), nil
}

// PutIfAbsent implements storage.Storage.
func (m *Mem) PutIfAbsent(ctx context.Context, ref string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.E(errors.TransientIO, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.m[ref]; ok {
		return errors.E(errors.Exist, errors.Str(ref))
	}
	m.m[ref] = append([]byte{}, data...)
	m.mod[ref] = m.now()
	return nil
}

// Put stores data at ref unconditionally. It is not part of
// storage.Storage; tests use it to set up and corrupt log states.
func (m *Mem) Put(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[ref] = append([]byte{}, data...)
	m.mod[ref] = m.now()
}

// Delete removes ref if present. Tests use it to punch gaps in logs.
func (m *Mem) Delete(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, ref)
	delete(m.mod, ref)
}

// Faults configures a Faulty wrapper. Each hook, when non-nil, may
// return a non-nil error to inject in place of the real operation.
type Faults struct {
	// List, Get, Put are consulted before the underlying call.
	List func(prefix string) error
	Get  func(ref string) error
	Put  func(ref string) error

	// LosePut reports whether the response to a PutIfAbsent should
	// be lost: the put is performed, but the caller receives a
	// TransientIO error, as if the connection died after the write
	// was sent. This exercises the unobserved-win handling in the
	// commit coordinator.
	LosePut func(ref string) bool
}

// WithFaults wraps s so that the given faults are injected.
func WithFaults(s storage.Storage, f *Faults) storage.Storage {
	return &faulty{s, f}
}

type faulty struct {
	storage.Storage
	f *Faults
}

func (s *faulty) List(ctx context.Context, prefix string) ([]storage.ObjInfo, error) {
	if s.f.List != nil {
		if err := s.f.List(prefix); err != nil {
			return nil, err
		}
	}
	return s.Storage.List(ctx, prefix)
}

func (s *faulty) Get(ctx context.Context, ref string) ([]byte, error) {
	if s.f.Get != nil {
		if err := s.f.Get(ref); err != nil {
			return nil, err
		}
	}
	return s.Storage.Get(ctx, ref)
}

func (s *faulty) PutIfAbsent(ctx context.Context, ref string, data []byte) error {
	if s.f.Put != nil {
		if err := s.f.Put(ref); err != nil {
			return err
		}
	}
	err := s.Storage.PutIfAbsent(ctx, ref, data)
	if err == nil && s.f.LosePut != nil && s.f.LosePut(ref) {
		return errors.E(errors.TransientIO, errors.Str("response lost: "+ref))
	}
	return err
}
