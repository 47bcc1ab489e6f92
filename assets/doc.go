// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package assets serves the browser viewer's static files from a
// directory.
//
// A [Store] reads files lazily and caches them together with their
// BLAKE3 entity tag and precompressed zstd and gzip variants. An
// fsnotify watcher drops cached entries when the directory changes, so
// a viewer bundle can be replaced without restarting the server.
//
// [Store.Respond] turns a GET request into a complete response:
// 403 for paths containing "..", 404 for missing files, 304 when
// If-None-Match matches, otherwise the content in the best encoding
// the client accepts.
package assets
