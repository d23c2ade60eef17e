// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package segment

import (
	"encoding/json"

	"tablelog.io/errors"
	"tablelog.io/tablelog"
)

// ManifestFormatVersion is the current encoding version written into
// checkpoint manifests. Readers treat fields added by later format
// versions as absent, never as errors.
const ManifestFormatVersion = 1

// Manifest is the small pointer file published after a checkpoint's
// shards are durable. It is immutable: one manifest may exist per
// version, created by conditional put, and resolvers discover the
// latest by listing.
type Manifest struct {
	// Version is the table version the checkpoint materializes.
	Version tablelog.Version `json:"version"`
	// Size is the number of actions across all shards.
	Size int64 `json:"size"`
	// Parts is the number of shards; shards are numbered 1..Parts.
	Parts int `json:"parts"`
	// FormatVersion identifies the shard encoding.
	FormatVersion int `json:"formatVersion"`
	// CreatedTime is milliseconds since the Unix epoch.
	CreatedTime int64 `json:"createdTime,omitempty"`
}

// ParseManifest decodes a checkpoint manifest. Unknown fields are
// ignored for forward compatibility.
func ParseManifest(data []byte) (*Manifest, error) {
	const op errors.Op = "segment.ParseManifest"
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.E(op, errors.MalformedAction, err)
	}
	if m.Version < 0 || m.Parts < 1 {
		return nil, errors.E(op, errors.MalformedAction, errors.Errorf("bad manifest: version %d, parts %d", m.Version, m.Parts))
	}
	return &m, nil
}

// Marshal encodes the manifest.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
