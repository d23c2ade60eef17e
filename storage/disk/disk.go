// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disk provides a storage.Storage that stores log files on
// local disk. It is suitable for single-machine use and for tests; on
// a local file system the link-based conditional put is truly atomic.
package disk // import "tablelog.io/storage/disk"

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"tablelog.io/errors"
	"tablelog.io/storage"
)

// New initializes and returns a disk-backed storage.Storage with the
// given options. The single, required option is "basePath": the
// absolute path under which all objects are stored.
func New(opts *storage.Opts) (storage.Storage, error) {
	const op errors.Op = "storage/disk.New"

	base, ok := opts.Opts["basePath"]
	if !ok {
		return nil, errors.E(op, errors.Invalid, errors.Str("the basePath option must be specified"))
	}
	if err := os.MkdirAll(base, 0700); err != nil {
		return nil, errors.E(op, errors.PermanentIO, err)
	}
	return &storageImpl{base: base}, nil
}

func init() {
	storage.Register("disk", New)
}

type storageImpl struct {
	base string
}

var _ storage.Storage = (*storageImpl)(nil)

// refs use forward slashes regardless of host OS.
func (s *storageImpl) path(ref string) string {
	return filepath.Join(s.base, filepath.FromSlash(ref))
}

// List implements storage.Storage.
func (s *storageImpl) List(ctx context.Context, prefix string) ([]storage.ObjInfo, error) {
	const op errors.Op = "storage/disk.List"
	if err := ctx.Err(); err != nil {
		return nil, errors.E(op, errors.TransientIO, err)
	}
	// Walk the deepest directory containing the whole prefix; entries
	// below it are filtered by name.
	dir := prefix
	if !strings.HasSuffix(prefix, "/") {
		dir = path.Dir(prefix)
	}
	root := filepath.Join(s.base, filepath.FromSlash(dir))
	var infos []storage.ObjInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.base, p)
		if err != nil {
			return err
		}
		ref := filepath.ToSlash(rel)
		if !strings.HasPrefix(ref, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, storage.ObjInfo{
			Ref:      ref,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.E(op, errors.PermanentIO, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Ref < infos[j].Ref })
	return infos, nil
}

// Get implements storage.Storage.
func (s *storageImpl) Get(ctx context.Context, ref string) ([]byte, error) {
	const op errors.Op = "storage/disk.Get"
	if err := ctx.Err(); err != nil {
		return nil, errors.E(op, errors.TransientIO, err)
	}
	data, err := os.ReadFile(s.path(ref))
	if os.IsNotExist(err) {
		return nil, errors.E(op, errors.NotExist, errors.Str(ref))
	}
	if err != nil {
		return nil, errors.E(op, errors.PermanentIO, err)
	}
	return data, nil
}

// PutIfAbsent implements storage.Storage. The object is written to a
// temporary file and published with a hard link, so a crash mid-write
// can never leave a partially written object at ref and two racing
// writers admit exactly one winner.
func (s *storageImpl) PutIfAbsent(ctx context.Context, ref string, data []byte) error {
	const op errors.Op = "storage/disk.PutIfAbsent"
	if err := ctx.Err(); err != nil {
		return errors.E(op, errors.TransientIO, err)
	}
	target := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return errors.E(op, errors.PermanentIO, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return errors.E(op, errors.PermanentIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.E(op, errors.PermanentIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.E(op, errors.PermanentIO, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.E(op, errors.PermanentIO, err)
	}
	if err := os.Link(tmpName, target); err != nil {
		if os.IsExist(err) {
			return errors.E(op, errors.Exist, errors.Str(ref))
		}
		return errors.E(op, errors.PermanentIO, err)
	}
	return nil
}
