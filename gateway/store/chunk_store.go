// Package store implements the gateway's on-disk persistence: chunk
// payloads addressed by data root and offset, and verified contiguous
// data addressed by content hash.
package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

// ErrNotFound signals that the store holds no object under the
// requested address.
var ErrNotFound = errors.New("not found in store")

// ChunkStore persists chunk payloads under
// {base}/{data_root}/{relative_offset}.
type ChunkStore struct {
	baseDir string
}

// NewChunkStore initializes the chunk directory tree.
func NewChunkStore(baseDir string) (*ChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create chunk store directory")
	}
	return &ChunkStore{baseDir: baseDir}, nil
}

func (s *ChunkStore) path(dataRoot []byte, relativeOffset uint64) string {
	return filepath.Join(s.baseDir, arweave.EncodeBase64(dataRoot), strconv.FormatUint(relativeOffset, 10))
}

// Has reports whether a chunk is present.
func (s *ChunkStore) Has(dataRoot []byte, relativeOffset uint64) bool {
	_, err := os.Stat(s.path(dataRoot, relativeOffset))
	return err == nil
}

// Get reads a chunk payload.
func (s *ChunkStore) Get(dataRoot []byte, relativeOffset uint64) ([]byte, error) {
	data, err := ioutil.ReadFile(s.path(dataRoot, relativeOffset))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "could not read chunk")
	}
	return data, nil
}

// Put writes a chunk payload. The write goes through a temp file and a
// rename so a crash cannot leave a torn chunk behind.
func (s *ChunkStore) Put(dataRoot []byte, relativeOffset uint64, data []byte) error {
	dir := filepath.Join(s.baseDir, arweave.EncodeBase64(dataRoot))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "could not create data root directory")
	}
	tmp, err := ioutil.TempFile(dir, ".tmp-")
	if err != nil {
		return errors.Wrap(err, "could not create temp chunk file")
	}
	if _, err := tmp.Write(data); err != nil {
		if closeErr := tmp.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Could not close temp chunk file")
		}
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			log.WithError(rmErr).Debug("Could not remove temp chunk file")
		}
		return errors.Wrap(err, "could not write chunk")
	}
	if err := tmp.Close(); err != nil {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			log.WithError(rmErr).Debug("Could not remove temp chunk file")
		}
		return errors.Wrap(err, "could not close temp chunk file")
	}
	if err := os.Rename(tmp.Name(), s.path(dataRoot, relativeOffset)); err != nil {
		return errors.Wrap(err, "could not finalize chunk")
	}
	return nil
}

// Delete removes a chunk if present.
func (s *ChunkStore) Delete(dataRoot []byte, relativeOffset uint64) error {
	err := os.Remove(s.path(dataRoot, relativeOffset))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not delete chunk")
	}
	return nil
}
