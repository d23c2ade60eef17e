// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commit

import (
	"fmt"

	"tablelog.io/action"
	"tablelog.io/tablelog"
)

// footprint is the set of things a commit touches: the data paths it
// adds, removes or declared reading, the metadata domains it writes,
// the application ids it records watermarks for, and whether it
// rewrites the table's metadata or protocol. Two commits conflict
// exactly when their footprints intersect.
type footprint struct {
	paths    map[tablelog.DataPath]bool
	domains  map[string]bool
	apps     map[tablelog.AppID]bool
	metadata bool
	protocol bool
}

func footprintOf(acts []action.Action, reads map[tablelog.DataPath]bool) *footprint {
	f := &footprint{
		paths:   make(map[tablelog.DataPath]bool),
		domains: make(map[string]bool),
		apps:    make(map[tablelog.AppID]bool),
	}
	for p := range reads {
		f.paths[p] = true
	}
	for i := range acts {
		a := &acts[i]
		switch {
		case a.Add != nil:
			f.paths[a.Add.Path] = true
		case a.Remove != nil:
			f.paths[a.Remove.Path] = true
		case a.Metadata != nil:
			f.metadata = true
		case a.Protocol != nil:
			f.protocol = true
		case a.Txn != nil:
			f.apps[a.Txn.AppID] = true
		case a.DomainMetadata != nil:
			f.domains[a.DomainMetadata.Domain] = true
		}
		// CommitInfo and unknown actions have no footprint.
	}
	return f
}

// intersects reports whether the footprints overlap, and describes
// the first overlap found.
func (f *footprint) intersects(o *footprint) (string, bool) {
	if f.metadata && o.metadata {
		return "table metadata", true
	}
	if f.protocol && o.protocol {
		return "table protocol", true
	}
	for p := range f.paths {
		if o.paths[p] {
			return fmt.Sprintf("file %q", p), true
		}
	}
	for d := range f.domains {
		if o.domains[d] {
			return fmt.Sprintf("domain %q", d), true
		}
	}
	for a := range f.apps {
		if o.apps[a] {
			return fmt.Sprintf("app id %q", a), true
		}
	}
	return "", false
}
