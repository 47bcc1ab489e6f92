// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
)

var (
	// ErrNotFound is returned for paths with no regular file behind
	// them.
	ErrNotFound = errors.New("asset not found")

	// ErrForbidden is returned for paths that try to leave the asset
	// directory.
	ErrForbidden = errors.New("asset path forbidden")
)

// IndexFile is served for directory paths, including "/".
const IndexFile = "index.html"

// Asset is one cached file.
type Asset struct {
	// Name is the slash-separated path relative to the store root.
	Name        string
	ContentType string
	// ETag is a quoted strong entity tag derived from the content.
	ETag string
	Data []byte

	// encoded maps a content coding ("zstd", "gzip") to the compressed
	// body. Only codings that shrink the file are present.
	encoded map[string][]byte
}

// Store serves files below a root directory.
type Store struct {
	root    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu    sync.RWMutex
	cache map[string]*Asset
	// generation counts invalidations. A load that raced one is
	// returned but not cached.
	generation uint64
}

// Open serves files from root. A missing directory is not an error;
// every lookup returns ErrNotFound until it appears. Failure to
// create the watcher is logged and leaves the cache without
// invalidation, so files are then read on every request.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving asset directory %s: %w", root, err)
	}
	s := &Store{
		root:   absolute,
		logger: logger,
		done:   make(chan struct{}),
		cache:  make(map[string]*Asset),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("asset watcher unavailable, caching disabled", "error", err)
		return s, nil
	}
	s.watcher = watcher
	s.watchTree(absolute)
	s.wg.Go(s.watch)
	return s, nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// Lookup resolves a URL path to an asset.
func (s *Store) Lookup(urlPath string) (*Asset, error) {
	if strings.Contains(urlPath, "..") {
		return nil, ErrForbidden
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || strings.HasSuffix(urlPath, "/") {
		name = path.Join(name, IndexFile)
	}

	var generation uint64
	if s.watcher != nil {
		s.mu.RLock()
		asset, ok := s.cache[name]
		generation = s.generation
		s.mu.RUnlock()
		if ok {
			return asset, nil
		}
	}

	asset, err := s.load(name)
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		s.store(name, asset, generation)
	}
	return asset, nil
}

// store caches asset unless the cache was invalidated since
// generation was read.
func (s *Store) store(name string, asset *Asset, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return
	}
	s.cache[name] = asset
}

func (s *Store) load(name string) (*Asset, error) {
	full := filepath.Join(s.root, filepath.FromSlash(name))
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat asset %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("reading asset %s: %w", name, err)
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	asset := &Asset{
		Name:        name,
		ContentType: contentType,
		ETag:        entityTag(data),
		Data:        data,
	}
	if compressible(contentType) {
		asset.encoded = compressVariants(data)
	}
	return asset, nil
}

// entityTag is the first 128 bits of the BLAKE3 digest, hex encoded
// and quoted.
func entityTag(data []byte) string {
	digest := blake3.Sum256(data)
	return `"` + hex.EncodeToString(digest[:16]) + `"`
}

// invalidate drops every cached asset. Directory events do not name
// which cached files they affect, so partial invalidation is not
// attempted.
func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if len(s.cache) > 0 {
		s.cache = make(map[string]*Asset)
	}
}

func (s *Store) cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// watchTree adds root and every directory below it to the watcher.
func (s *Store) watchTree(root string) {
	err := filepath.WalkDir(root, func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if err := s.watcher.Add(name); err != nil {
				s.logger.Warn("watching asset directory", "directory", name, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("walking asset directory", "directory", root, "error", err)
	}
}

func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					s.watchTree(event.Name)
				}
			}
			s.logger.Debug("asset directory changed", "path", event.Name, "op", event.Op.String())
			s.invalidate()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("asset watcher error", "error", err)
			s.invalidate()
		}
	}
}
