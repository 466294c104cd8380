package manifest

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
)

// PathIndex is the persistent manifest path index the resolver
// backfills and consults.
type PathIndex interface {
	ManifestPath(ctx context.Context, manifestID arweave.ID, path string) (*arweave.ID, error)
	SaveManifestPaths(ctx context.Context, manifestID arweave.ID, paths map[string]arweave.ID) error
}

// Resolution is the outcome of one manifest path lookup. Complete
// reports whether the answer is definitive; an incomplete resolution
// means the resolver could neither rule the path in nor out, and the
// caller must consult the manifest body.
type Resolution struct {
	ID       *arweave.ID
	Complete bool
}

// Resolver answers path lookups inside path manifests. Parsed
// documents are held in an LRU, so a manifest's body is only parsed
// once per residency, and every parse backfills the persistent index.
type Resolver struct {
	index PathIndex
	lru   *lru.Cache
}

// NewResolver creates a resolver over the given index. A nil index
// disables persistence but leaves the in-memory layer working.
func NewResolver(index PathIndex) (*Resolver, error) {
	c, err := lru.New(params.Gateway().ManifestCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create manifest cache")
	}
	return &Resolver{index: index, lru: c}, nil
}

// ResolveFromIndex answers a lookup without the manifest body. A
// cached parse answers definitively in both directions; the persistent
// index answers hits definitively but cannot prove absence, so a miss
// there is incomplete.
func (r *Resolver) ResolveFromIndex(ctx context.Context, manifestID arweave.ID, subpath string) (*Resolution, error) {
	if v, ok := r.lru.Get(manifestID); ok {
		m := v.(*Manifest)
		res := &Resolution{ID: m.Lookup(subpath), Complete: true}
		resolutionsTotal.WithLabelValues("memory", outcome(res.ID)).Inc()
		return res, nil
	}
	if r.index != nil {
		target, err := r.index.ManifestPath(ctx, manifestID, subpath)
		if err != nil {
			log.WithError(err).WithField("manifest", manifestID).Warn("Could not read manifest path index")
		} else if target != nil {
			resolutionsTotal.WithLabelValues("index", "hit").Inc()
			return &Resolution{ID: target, Complete: true}, nil
		}
	}
	return &Resolution{Complete: false}, nil
}

// ResolveFromData parses the manifest body and answers the lookup
// definitively. The parsed path table is cached and backfilled into
// the persistent index, the root target under the empty subpath.
func (r *Resolver) ResolveFromData(ctx context.Context, manifestID arweave.ID, body io.Reader, subpath string) (*Resolution, error) {
	m, err := Parse(body)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse manifest %s", manifestID)
	}
	r.lru.Add(manifestID, m)
	if r.index != nil {
		paths := make(map[string]arweave.ID, len(m.Paths)+1)
		for p, id := range m.Paths {
			paths[p] = id
		}
		if root := m.Lookup(""); root != nil {
			paths[""] = *root
		}
		if err := r.index.SaveManifestPaths(ctx, manifestID, paths); err != nil {
			log.WithError(err).WithField("manifest", manifestID).Warn("Could not backfill manifest path index")
		}
	}
	res := &Resolution{ID: m.Lookup(subpath), Complete: true}
	resolutionsTotal.WithLabelValues("data", outcome(res.ID)).Inc()
	return res, nil
}

func outcome(id *arweave.ID) string {
	if id != nil {
		return "hit"
	}
	return "miss"
}
