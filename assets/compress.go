// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Content codings in server preference order.
var codings = []string{"zstd", "gzip"}

// minCompressSize is the smallest body worth compressing.
const minCompressSize = 512

func compressible(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/javascript",
		mediaType == "application/json",
		mediaType == "application/wasm",
		mediaType == "image/svg+xml":
		return true
	default:
		return false
	}
}

// compressVariants returns each coding that makes data smaller.
func compressVariants(data []byte) map[string][]byte {
	if len(data) < minCompressSize {
		return nil
	}
	variants := make(map[string][]byte, len(codings))
	if compressed, err := compressZstd(data); err == nil && len(compressed) < len(data) {
		variants["zstd"] = compressed
	}
	if compressed, err := compressGzip(data); err == nil && len(compressed) < len(data) {
		variants["gzip"] = compressed
	}
	return variants
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buffer, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// acceptedCodings parses Accept-Encoding into the set of codings with
// a non-zero quality. "*" is ignored; identity is always acceptable.
func acceptedCodings(header string) map[string]bool {
	accepted := make(map[string]bool)
	for _, element := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(element), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding == "" || coding == "*" {
			continue
		}
		quality := 1.0
		for _, param := range strings.Split(params, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if ok && strings.EqualFold(strings.TrimSpace(key), "q") {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
					quality = parsed
				}
			}
		}
		accepted[coding] = quality > 0
	}
	return accepted
}
