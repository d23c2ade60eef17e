// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inprocess implements an in-memory catalog, mostly useful
// for testing and for single-process deployments configured up front.
package inprocess // import "tablelog.io/catalog/inprocess"

import (
	"context"
	"sort"
	"sync"

	"tablelog.io/catalog"
	"tablelog.io/errors"
	"tablelog.io/tablelog"
)

// New returns an empty in-memory catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]tablelog.TablePath)}
}

// Catalog is an in-memory catalog.Catalog. It is safe for concurrent use.
type Catalog struct {
	mu     sync.Mutex
	tables map[string]tablelog.TablePath
}

var _ catalog.Catalog = (*Catalog)(nil)

// Put registers or replaces the path for name.
func (c *Catalog) Put(name string, path tablelog.TablePath) {
	c.mu.Lock()
	c.tables[name] = path
	c.mu.Unlock()
}

// Delete removes name from the catalog. Deleting an absent name is
// not an error.
func (c *Catalog) Delete(name string) {
	c.mu.Lock()
	delete(c.tables, name)
	c.mu.Unlock()
}

// Resolve implements catalog.Catalog.
func (c *Catalog) Resolve(ctx context.Context, name string) (tablelog.TablePath, error) {
	const op errors.Op = "catalog/inprocess.Resolve"
	c.mu.Lock()
	path, ok := c.tables[name]
	c.mu.Unlock()
	if !ok {
		return "", errors.E(op, errors.NotExist, errors.Errorf("no table %q", name))
	}
	return path, nil
}

// List implements catalog.Catalog.
func (c *Catalog) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)
	return names, nil
}
