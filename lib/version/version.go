// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for streamd binaries.
//
// Values are injected with -ldflags, for example:
//
//	go build -ldflags "-X github.com/visionkit/streamd/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns the --version line.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full adds the Go toolchain and platform, logged once at startup.
func Full() string {
	return fmt.Sprintf("%s go=%s platform=%s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
