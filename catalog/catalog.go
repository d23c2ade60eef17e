// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package catalog defines the interface for mapping table names to
// storage locations.
package catalog // import "tablelog.io/catalog"

import (
	"context"

	"tablelog.io/tablelog"
)

// Catalog resolves human-readable table names to table paths.
type Catalog interface {
	// Resolve returns the path of the named table, or an error of
	// kind errors.NotExist if the catalog has no such entry.
	Resolve(ctx context.Context, name string) (tablelog.TablePath, error)

	// List returns all table names in the catalog, sorted.
	List(ctx context.Context) ([]string, error)
}
