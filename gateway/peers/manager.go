package peers

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/permagate/permagate/async"
	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PeerLister supplies the authoritative peer list, normally backed by
// the trusted node's /peers endpoint.
type PeerLister interface {
	Peers(ctx context.Context) ([]string, error)
}

// HostClient performs direct requests against individual peer hosts,
// normally a chain.HostClient.
type HostClient interface {
	Info(ctx context.Context, host string) (*arweave.NodeInfo, error)
	SyncBuckets(ctx context.Context, host string) ([]byte, error)
}

// Config options for the peer manager.
type Config struct {
	Lister              PeerLister
	Hosts               HostClient
	IgnoredPeers        []string
	PreferredChunkPeers []string
}

// Manager maintains the live peer set and serves weighted selections
// from it. It refreshes the set from the trusted node on an interval
// and probes each listed host before admitting it.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	lock      sync.RWMutex
	peers     map[string]*peerStatus
	ignored   map[string]struct{}
	preferred []string

	lister PeerLister
	hosts  HostClient

	rngLock sync.Mutex
	rng     *rand.Rand

	refreshLock    sync.Mutex
	lastRefresh    time.Time
	lastRefreshErr error
}

// NewManager creates a peer manager. It performs no network calls
// until Start or an explicit refresh.
func NewManager(ctx context.Context, cfg *Config) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	ignored := make(map[string]struct{}, len(cfg.IgnoredPeers))
	for _, p := range cfg.IgnoredPeers {
		if u := normalizePeerURL(p); u != "" {
			ignored[u] = struct{}{}
		}
	}
	preferred := make([]string, 0, len(cfg.PreferredChunkPeers))
	for _, p := range cfg.PreferredChunkPeers {
		if u := normalizePeerURL(p); u != "" {
			preferred = append(preferred, u)
		}
	}
	return &Manager{
		ctx:       ctx,
		cancel:    cancel,
		peers:     make(map[string]*peerStatus),
		ignored:   ignored,
		preferred: preferred,
		lister:    cfg.Lister,
		hosts:     cfg.Hosts,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start schedules periodic peer list and sync bucket refreshes.
func (m *Manager) Start() {
	cfg := params.Gateway()
	go func() {
		if err := m.RefreshPeers(m.ctx); err != nil {
			log.WithError(err).Error("Could not perform initial peer refresh")
		}
		if err := m.RefreshSyncBuckets(m.ctx); err != nil {
			log.WithError(err).Error("Could not perform initial sync bucket refresh")
		}
	}()
	async.RunEvery(m.ctx, cfg.PeerRefreshInterval, func() {
		if err := m.RefreshPeers(m.ctx); err != nil {
			log.WithError(err).Error("Could not refresh peers")
		}
	})
	async.RunEvery(m.ctx, cfg.BucketRefreshInterval, func() {
		if err := m.RefreshSyncBuckets(m.ctx); err != nil {
			log.WithError(err).Error("Could not refresh sync buckets")
		}
	})
}

// Stop halts the refresh schedule.
func (m *Manager) Stop() error {
	m.cancel()
	return nil
}

// Status returns the error of the last peer refresh, if any.
func (m *Manager) Status() error {
	m.refreshLock.Lock()
	defer m.refreshLock.Unlock()
	return m.lastRefreshErr
}

// RefreshPeers fetches the trusted node's peer list, probes every
// listed host and rebuilds the peer set. Hosts on the ignore list are
// skipped, existing peers keep their weights, peers absent from the
// new list are evicted, and individual probe failures only surface as
// a metric. The refresh fails only when the trusted node itself is
// unreachable.
func (m *Manager) RefreshPeers(ctx context.Context) error {
	cfg := params.Gateway()
	start := time.Now()
	hosts, err := m.lister.Peers(ctx)
	m.refreshLock.Lock()
	m.lastRefresh = start
	m.lastRefreshErr = err
	m.refreshLock.Unlock()
	if err != nil {
		refreshFailures.Inc()
		return errors.Wrap(err, "could not refresh peers")
	}

	type probed struct {
		url  string
		info *arweave.NodeInfo
	}
	results := make([]*probed, 0, len(hosts))
	var resultsLock sync.Mutex

	eg, egctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, cfg.ProbeParallelism)
	listed := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		url := normalizePeerURL(host)
		if url == "" {
			continue
		}
		if _, ok := m.ignored[url]; ok {
			continue
		}
		listed[url] = struct{}{}
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			info, err := m.probePeer(egctx, url)
			if err != nil {
				probeFailures.Inc()
				log.WithError(err).WithField("peer", url).Debug("Peer probe failed")
				return nil
			}
			resultsLock.Lock()
			results = append(results, &probed{url: url, info: info})
			resultsLock.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return errors.Wrap(err, "could not probe peers")
	}

	m.lock.Lock()
	for url, status := range m.peers {
		if status.preferred {
			continue
		}
		if _, ok := listed[url]; !ok {
			delete(m.peers, url)
		}
	}
	now := time.Now()
	for _, p := range results {
		status, ok := m.peers[p.url]
		if !ok {
			if err := m.addLocked(p.url, false); err != nil {
				continue
			}
			status = m.peers[p.url]
		}
		status.height = p.info.Height
		status.blocks = p.info.Blocks
		status.lastSeen = now
	}
	total := len(m.peers)
	m.lock.Unlock()

	peersTotal.Set(float64(total))
	log.WithFields(logrus.Fields{
		"listed":   len(hosts),
		"probed":   len(results),
		"known":    total,
		"duration": time.Since(start),
	}).Debug("Refreshed peers")
	return nil
}

// RefreshSyncBuckets fetches every known peer's advertised sync bucket
// map. A failed or unparsable response clears the peer's coverage but
// keeps the peer.
func (m *Manager) RefreshSyncBuckets(ctx context.Context) error {
	cfg := params.Gateway()
	urls := m.All()

	eg, egctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, cfg.ProbeParallelism)
	for _, url := range urls {
		url := url
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			buckets, err := m.fetchSyncBuckets(egctx, url)
			m.lock.Lock()
			status, ok := m.peers[url]
			if ok {
				if err != nil {
					status.syncBuckets = nil
				} else {
					status.syncBuckets = buckets
					status.bucketsLastUpdated = time.Now()
				}
			}
			m.lock.Unlock()
			if err != nil {
				bucketRefreshFailures.Inc()
				log.WithError(err).WithField("peer", url).Debug("Sync bucket refresh failed")
			}
			return nil
		})
	}
	return eg.Wait()
}

func (m *Manager) probePeer(ctx context.Context, url string) (*arweave.NodeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, params.Gateway().ProbeTimeout)
	defer cancel()
	return m.hosts.Info(ctx, url)
}

func (m *Manager) fetchSyncBuckets(ctx context.Context, url string) (*SyncBuckets, error) {
	ctx, cancel := context.WithTimeout(ctx, params.Gateway().ProbeTimeout)
	defer cancel()
	body, err := m.hosts.SyncBuckets(ctx, url)
	if err != nil {
		return nil, err
	}
	return ParseSyncBuckets(body)
}
