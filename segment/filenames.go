// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package segment resolves the minimal set of log files needed to
// reconstruct a table version: the best checkpoint at or below the
// target, plus every commit strictly after it.
//
// File names in the log directory encode everything discovery needs,
// so resolution is driven by listing, never by reading data files:
//
//	00000000000000000007.json                          commit, version 7
//	00000000000000000010.checkpoint.0000000002.0000000003.json
//	                                       checkpoint shard 2 of 3, version 10
//	00000000000000000010.checkpoint.manifest.json      checkpoint manifest
package segment // import "tablelog.io/segment"

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"tablelog.io/tablelog"
)

// RefKind classifies a log-directory file name.
type RefKind int

const (
	KindUnknown RefKind = iota
	KindCommit
	KindShard
	KindManifest
)

// LogPrefix returns the listing prefix for a table's log directory,
// including the trailing slash.
func LogPrefix(table tablelog.TablePath) string {
	return path.Join(string(table), tablelog.LogDir) + "/"
}

// CommitRef returns the ref of the commit file for version v.
func CommitRef(table tablelog.TablePath, v tablelog.Version) string {
	return fmt.Sprintf("%s%020d.json", LogPrefix(table), v)
}

// ManifestRef returns the ref of the checkpoint manifest for version v.
func ManifestRef(table tablelog.TablePath, v tablelog.Version) string {
	return fmt.Sprintf("%s%020d.checkpoint.manifest.json", LogPrefix(table), v)
}

// ShardRef returns the ref of checkpoint shard part (1-based) of count
// for version v.
func ShardRef(table tablelog.TablePath, v tablelog.Version, part, count int) string {
	return fmt.Sprintf("%s%020d.checkpoint.%010d.%010d.json", LogPrefix(table), v, part, count)
}

// ParseRef classifies a log-directory ref by name alone. For shards,
// part and count are returned; both are zero otherwise. ok is false
// for names that are not part of the log layout.
func ParseRef(ref string) (v tablelog.Version, kind RefKind, part, count int, ok bool) {
	base := path.Base(ref)
	parts := strings.Split(base, ".")
	if len(parts) < 2 || parts[len(parts)-1] != "json" {
		return 0, KindUnknown, 0, 0, false
	}
	ver, err := parseFixed(parts[0], 20)
	if err != nil {
		return 0, KindUnknown, 0, 0, false
	}
	v = tablelog.Version(ver)
	switch {
	case len(parts) == 2:
		return v, KindCommit, 0, 0, true
	case len(parts) == 4 && parts[1] == "checkpoint" && parts[2] == "manifest":
		return v, KindManifest, 0, 0, true
	case len(parts) == 5 && parts[1] == "checkpoint":
		p, err1 := parseFixed(parts[2], 10)
		n, err2 := parseFixed(parts[3], 10)
		if err1 != nil || err2 != nil || p < 1 || n < 1 || p > n {
			return 0, KindUnknown, 0, 0, false
		}
		return v, KindShard, int(p), int(n), true
	}
	return 0, KindUnknown, 0, 0, false
}

// parseFixed parses a zero-padded decimal of exactly width digits.
func parseFixed(s string, width int) (int64, error) {
	if len(s) != width {
		return 0, fmt.Errorf("want %d digits, have %d", width, len(s))
	}
	return strconv.ParseInt(s, 10, 64)
}
