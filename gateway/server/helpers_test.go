package server

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/manifest"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/testing/require"
	"github.com/pkg/errors"
)

func serveID(b byte) arweave.ID {
	var id arweave.ID
	for i := range id {
		id[i] = b
	}
	return id
}

type sourceCall struct {
	id     arweave.ID
	region *arweave.Region
	hops   uint32
}

// stubSource serves fixed payloads and records every request it sees.
type stubSource struct {
	mu           sync.Mutex
	payloads     map[arweave.ID][]byte
	contentTypes map[arweave.ID]string
	cached       map[arweave.ID]bool
	err          error
	calls        []sourceCall
}

func newStubSource() *stubSource {
	return &stubSource{
		payloads:     make(map[arweave.ID][]byte),
		contentTypes: make(map[arweave.ID]string),
		cached:       make(map[arweave.ID]bool),
	}
}

func (s *stubSource) GetData(_ context.Context, id arweave.ID, reqAttrs *attributes.RequestAttributes, region *arweave.Region) (*arweave.ContiguousData, error) {
	s.mu.Lock()
	var hops uint32
	if reqAttrs != nil {
		hops = reqAttrs.Hops
	}
	var regionCopy *arweave.Region
	if region != nil {
		r := *region
		regionCopy = &r
	}
	s.calls = append(s.calls, sourceCall{id: id, region: regionCopy, hops: hops})
	err := s.err
	payload, ok := s.payloads[id]
	contentType := s.contentTypes[id]
	cached := s.cached[id]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(sources.ErrNotFound, "no such payload")
	}
	if region != nil {
		if region.Offset >= uint64(len(payload)) {
			return nil, errors.Wrap(sources.ErrRangeUnsatisfiable, "start past payload")
		}
		end := region.Offset + region.Size
		if end > uint64(len(payload)) {
			end = uint64(len(payload))
		}
		payload = payload[region.Offset:end]
	}
	return &arweave.ContiguousData{
		Stream:            io.NopCloser(bytes.NewReader(payload)),
		Size:              uint64(len(payload)),
		SourceContentType: contentType,
		Cached:            cached,
	}, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubSource) call(i int) sourceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

// fakeIndex backs both the attribute lookups and the manifest path
// index with in-memory maps.
type fakeIndex struct {
	mu    sync.Mutex
	attrs map[arweave.ID]*arweave.DataAttributes
	paths map[string]arweave.ID
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		attrs: make(map[arweave.ID]*arweave.DataAttributes),
		paths: make(map[string]arweave.ID),
	}
}

func (f *fakeIndex) DataAttributes(_ context.Context, id arweave.ID) (*arweave.DataAttributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attrs[id], nil
}

func (f *fakeIndex) ManifestPath(_ context.Context, manifestID arweave.ID, path string) (*arweave.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.paths[manifestID.String()+"/"+path]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (f *fakeIndex) SaveManifestPaths(_ context.Context, manifestID arweave.ID, paths map[string]arweave.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, id := range paths {
		f.paths[manifestID.String()+"/"+p] = id
	}
	return nil
}

func (f *fakeIndex) setAttrs(id arweave.ID, attrs *arweave.DataAttributes) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attrs[id] = attrs
}

// newTestService assembles a service around the given config, filling
// in a manifest resolver when none was provided.
func newTestService(t *testing.T, cfg *Config) *Service {
	params.SetupTestConfigCleanup(t)
	if cfg.Manifests == nil {
		var resolver *manifest.Resolver
		var err error
		if index, ok := cfg.Attributes.(*fakeIndex); ok {
			resolver, err = manifest.NewResolver(index)
		} else {
			resolver, err = manifest.NewResolver(nil)
		}
		require.NoError(t, err)
		cfg.Manifests = resolver
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func manifestDoc(index string, paths map[string]arweave.ID) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"manifest": "arweave/paths", "version": "0.1.0"`)
	if index != "" {
		buf.WriteString(`, "index": {"path": "` + index + `"}`)
	}
	buf.WriteString(`, "paths": {`)
	first := true
	for p, id := range paths {
		if !first {
			buf.WriteString(", ")
		}
		first = false
		buf.WriteString(`"` + p + `": {"id": "` + id.String() + `"}`)
	}
	buf.WriteString(`}}`)
	return buf.Bytes()
}
