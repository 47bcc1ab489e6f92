// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the streamd YAML configuration.
//
// A configuration file is optional: [Default] describes a camera
// server on the standard ports (framed 4665, WebSocket 4664, raw 4666)
// with a 15-entry transmit queue per viewer. A file named by the
// STREAMD_CONFIG environment variable ([Load]) or by --config
// ([LoadFile]) is decoded over those defaults, so it only needs the
// fields it changes.
//
// ${HOME} and ${VAR:-default} patterns are expanded in path fields
// after loading. [Config.Validate] reports every problem at once.
package config
