// Copyright 2026 The Tablelog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The version package is used by the release process to add an
// informative version string to commit provenance.
package version

import (
	"fmt"
	"time"
)

// These values are overwritten by the release process.
var (
	BuildTime = time.Time{}
	GitSHA    = ""
)

// Version returns a short string describing the current build,
// suitable for embedding in commit provenance.
func Version() string {
	if GitSHA == "" {
		return "devel"
	}
	return fmt.Sprintf("%s (%s)", GitSHA, BuildTime.In(time.UTC).Format(time.Stamp+" 2006 UTC"))
}
