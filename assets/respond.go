// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Respond answers a GET for a static asset. The caller sets the
// connection headers and writes the response.
func (s *Store) Respond(request *http.Request) *http.Response {
	asset, err := s.Lookup(request.URL.Path)
	switch {
	case errors.Is(err, ErrForbidden):
		return status(http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		return status(http.StatusNotFound)
	case err != nil:
		s.logger.Error("serving asset", "path", request.URL.Path, "error", err)
		return status(http.StatusInternalServerError)
	}

	header := http.Header{}
	header.Set("ETag", asset.ETag)
	header.Set("Cache-Control", "no-cache")
	if matchesETag(request.Header.Get("If-None-Match"), asset.ETag) {
		return &http.Response{StatusCode: http.StatusNotModified, Header: header, Body: http.NoBody}
	}

	header.Set("Content-Type", asset.ContentType)
	body := asset.Data
	if len(asset.encoded) > 0 {
		header.Set("Vary", "Accept-Encoding")
		accepted := acceptedCodings(request.Header.Get("Accept-Encoding"))
		for _, coding := range codings {
			if encoded, ok := asset.encoded[coding]; ok && accepted[coding] {
				header.Set("Content-Encoding", coding)
				body = encoded
				break
			}
		}
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        header,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
	}
}

func status(code int) *http.Response {
	return &http.Response{StatusCode: code, Header: http.Header{}, Body: http.NoBody}
}

// matchesETag implements the weak comparison If-None-Match uses.
func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
