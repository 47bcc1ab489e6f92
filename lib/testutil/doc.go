// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for streamd packages.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the select
// with a wall-clock safety valve so a broken test fails instead of
// hanging. [Eventually] polls a condition owned by other goroutines,
// such as a server's client count settling after a disconnect.
//
// All helpers call t.Fatalf on failure.
package testutil
