// Package blocklist implements moderation lists for the gateway.
// Objects can be blocked by transaction ID or by payload hash; blocked
// objects respond as not found and are never written to a cache.
package blocklist

import (
	"bufio"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blocklist")

// Checker answers whether an object is blocked. The server consults it
// by ID before retrieval, the data cache by payload hash before a
// cache write.
type Checker interface {
	IsIDBlocked(id arweave.ID) bool
	IsHashBlocked(hash []byte) bool
}

// FileBlocklist is a Checker backed by a text file of one entry per
// line: `id <base64url>` or `hash <hex>`. Blank lines and lines
// starting with # are ignored. The file is reloaded whenever it
// changes on disk.
type FileBlocklist struct {
	path string

	mu     sync.RWMutex
	ids    map[arweave.ID]struct{}
	hashes map[string]struct{}
}

// NewFileBlocklist loads the blocklist at path. A missing file is an
// empty list, not an error, so deployments can create it later.
func NewFileBlocklist(path string) (*FileBlocklist, error) {
	b := &FileBlocklist{
		path:   path,
		ids:    make(map[arweave.ID]struct{}),
		hashes: make(map[string]struct{}),
	}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads the backing file and swaps in the parsed entries.
// Malformed lines are skipped with a warning; only an unreadable file
// fails the reload, leaving the previous entries in place.
func (b *FileBlocklist) Reload() error {
	f, err := os.Open(filepath.Clean(b.path))
	if err != nil {
		if os.IsNotExist(err) {
			b.mu.Lock()
			b.ids = make(map[arweave.ID]struct{})
			b.hashes = make(map[string]struct{})
			b.mu.Unlock()
			return nil
		}
		return errors.Wrapf(err, "could not open blocklist %s", b.path)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Debug("Could not close blocklist file")
		}
	}()

	ids := make(map[arweave.ID]struct{})
	hashes := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			log.WithFields(logrus.Fields{"line": lineNo, "file": b.path}).Warn("Skipping malformed blocklist line")
			continue
		}
		switch fields[0] {
		case "id":
			id, err := arweave.IDFromString(fields[1])
			if err != nil {
				log.WithError(err).WithField("line", lineNo).Warn("Skipping invalid blocklist id")
				continue
			}
			ids[id] = struct{}{}
		case "hash":
			raw, err := hex.DecodeString(strings.ToLower(fields[1]))
			if err != nil || len(raw) != arweave.HashSize {
				log.WithField("line", lineNo).Warn("Skipping invalid blocklist hash")
				continue
			}
			hashes[string(raw)] = struct{}{}
		default:
			log.WithFields(logrus.Fields{"line": lineNo, "kind": fields[0]}).Warn("Skipping unknown blocklist entry kind")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "could not read blocklist %s", b.path)
	}

	b.mu.Lock()
	b.ids = ids
	b.hashes = hashes
	b.mu.Unlock()
	entriesLoaded.WithLabelValues("id").Set(float64(len(ids)))
	entriesLoaded.WithLabelValues("hash").Set(float64(len(hashes)))
	log.WithFields(logrus.Fields{"ids": len(ids), "hashes": len(hashes)}).Info("Loaded blocklist")
	return nil
}

// Watch reloads the blocklist whenever the backing file changes,
// until ctx is cancelled. It blocks and is meant to run on its own
// goroutine.
func (b *FileBlocklist) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Error("Could not initialize file watcher")
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Error("Could not close file watcher")
		}
	}()
	// Watch the directory so atomic replaces of the file are seen.
	if err := watcher.Add(filepath.Dir(b.path)); err != nil {
		log.WithError(err).Errorf("Could not watch blocklist directory for %s", b.path)
		return
	}
	name := filepath.Base(b.path)
	for {
		select {
		case event := <-watcher.Events:
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// Keep the last loaded entries; a blocklist should
				// not empty itself on a missing file.
				log.Warn("Blocklist file removed, keeping previous entries")
				continue
			}
			if err := b.Reload(); err != nil {
				log.WithError(err).Error("Could not reload blocklist")
				continue
			}
			reloadsTotal.Inc()
		case err := <-watcher.Errors:
			log.WithError(err).Errorf("Could not watch for file changes for: %s", b.path)
		case <-ctx.Done():
			return
		}
	}
}

// IsIDBlocked implements Checker.
func (b *FileBlocklist) IsIDBlocked(id arweave.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ids[id]
	return ok
}

// IsHashBlocked implements Checker.
func (b *FileBlocklist) IsHashBlocked(hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hashes[string(hash)]
	return ok
}

// Static is a fixed in-memory Checker for tests and for deployments
// without a blocklist file.
type Static struct {
	ids    map[arweave.ID]struct{}
	hashes map[string]struct{}
}

// NewStatic creates a Checker over fixed entries.
func NewStatic(ids []arweave.ID, hashes [][]byte) *Static {
	s := &Static{
		ids:    make(map[arweave.ID]struct{}, len(ids)),
		hashes: make(map[string]struct{}, len(hashes)),
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	for _, h := range hashes {
		s.hashes[string(h)] = struct{}{}
	}
	return s
}

// IsIDBlocked implements Checker.
func (s *Static) IsIDBlocked(id arweave.ID) bool {
	_, ok := s.ids[id]
	return ok
}

// IsHashBlocked implements Checker.
func (s *Static) IsHashBlocked(hash []byte) bool {
	_, ok := s.hashes[string(hash)]
	return ok
}
