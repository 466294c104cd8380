package store

import (
	"encoding/hex"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

const tmpDirName = "tmp"

// DataStore persists verified contiguous data addressed by its SHA-256
// under {base}/{h[0:2]}/{h[2:4]}/{hex}. Writers stage into a temp
// directory on the same filesystem and commit with a rename.
type DataStore struct {
	baseDir string
	tmpDir  string
}

// NewDataStore initializes the data directory tree.
func NewDataStore(baseDir string) (*DataStore, error) {
	tmpDir := filepath.Join(baseDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create data store directory")
	}
	return &DataStore{baseDir: baseDir, tmpDir: tmpDir}, nil
}

func (s *DataStore) path(hash []byte) (string, error) {
	if len(hash) != arweave.HashSize {
		return "", errors.Errorf("invalid hash length: %d", len(hash))
	}
	h := hex.EncodeToString(hash)
	return filepath.Join(s.baseDir, h[0:2], h[2:4], h), nil
}

// Has reports whether data with the given hash is present.
func (s *DataStore) Has(hash []byte) bool {
	p, err := s.path(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Get opens the full data stream and reports its size.
func (s *DataStore) Get(hash []byte) (io.ReadCloser, uint64, error) {
	p, err := s.path(hash)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, errors.Wrap(err, "could not open data")
	}
	info, err := f.Stat()
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Could not close data file")
		}
		return nil, 0, errors.Wrap(err, "could not stat data")
	}
	return f, uint64(info.Size()), nil
}

// GetRegion opens a stream over one region of the data. The region
// must lie inside the stored object.
func (s *DataStore) GetRegion(hash []byte, region *arweave.Region) (io.ReadCloser, error) {
	p, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "could not open data")
	}
	info, err := f.Stat()
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Could not close data file")
		}
		return nil, errors.Wrap(err, "could not stat data")
	}
	if region.End() > uint64(info.Size()) {
		if closeErr := f.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Could not close data file")
		}
		return nil, errors.Errorf("region [%d, %d) out of bounds for %d stored bytes", region.Offset, region.End(), info.Size())
	}
	if _, err := f.Seek(int64(region.Offset), io.SeekStart); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Could not close data file")
		}
		return nil, errors.Wrap(err, "could not seek data")
	}
	return &regionReader{Reader: io.LimitReader(f, int64(region.Size)), f: f}, nil
}

type regionReader struct {
	io.Reader
	f *os.File
}

func (r *regionReader) Close() error {
	return r.f.Close()
}

// Writer stages a new object. The caller streams data in, then either
// commits it under its hash or aborts.
func (s *DataStore) Writer() (*DataWriter, error) {
	f, err := ioutil.TempFile(s.tmpDir, "data-")
	if err != nil {
		return nil, errors.Wrap(err, "could not create temp data file")
	}
	return &DataWriter{store: s, f: f}, nil
}

// DataWriter accumulates one object in the staging directory.
type DataWriter struct {
	store *DataStore
	f     *os.File
}

// Write appends to the staged object.
func (w *DataWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit finalizes the staged object under the given content hash.
func (w *DataWriter) Commit(hash []byte) error {
	dst, err := w.store.path(hash)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			log.WithError(abortErr).Debug("Could not abort staged data")
		}
		return err
	}
	if err := w.f.Close(); err != nil {
		if rmErr := os.Remove(w.f.Name()); rmErr != nil {
			log.WithError(rmErr).Debug("Could not remove staged data")
		}
		return errors.Wrap(err, "could not close staged data")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return errors.Wrap(err, "could not create data directory")
	}
	if err := os.Rename(w.f.Name(), dst); err != nil {
		return errors.Wrap(err, "could not finalize data")
	}
	return nil
}

// Abort discards the staged object.
func (w *DataWriter) Abort() error {
	if err := w.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.WithError(err).Debug("Could not close staged data")
	}
	if err := os.Remove(w.f.Name()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not remove staged data")
	}
	return nil
}
