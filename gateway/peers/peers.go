// Package peers tracks the Arweave peers the gateway retrieves data
// from, grouped by the operation they serve: chain queries, chunk
// retrieval and chunk posting.
//
// A peer moves through a simple lifecycle within each category:
//
// - absent until a refresh discovers it on the trusted node's peer list
// - present at the category's default weight once discovered
// - weight raised or lowered as operations succeed or fail against it
// - evicted when a later refresh no longer lists it
//
// Weights stay within the configured floor and ceiling, and selection
// is a weighted random draw with replacement, so a struggling peer
// keeps receiving a trickle of traffic and can recover its standing.
package peers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/permagate/permagate/config/params"
)

// Category names an operation peers are scored on independently.
type Category string

const (
	// CategoryChain scores peers on chain queries such as block and
	// transaction lookups.
	CategoryChain Category = "chain"
	// CategoryGetChunk scores peers on chunk retrieval.
	CategoryGetChunk Category = "get-chunk"
	// CategoryPostChunk scores peers on chunk uploads.
	CategoryPostChunk Category = "post-chunk"
)

// Categories lists every scored operation.
var Categories = []Category{CategoryChain, CategoryGetChunk, CategoryPostChunk}

// WeightedPeer pairs a peer URL with its selection weight in a category.
type WeightedPeer struct {
	URL    string
	Weight int
}

// peerStatus is the tracked state of an individual peer.
type peerStatus struct {
	url                string
	height             int64
	blocks             int64
	lastSeen           time.Time
	preferred          bool
	weights            map[Category]int
	syncBuckets        *SyncBuckets
	bucketsLastUpdated time.Time
}

// Add registers a peer with default weights in every category. This
// will error if the peer already exists.
func (m *Manager) Add(url string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.addLocked(url, false)
}

func (m *Manager) addLocked(url string, preferred bool) error {
	if _, ok := m.peers[url]; ok {
		return fmt.Errorf("peer %v already exists", url)
	}
	cfg := params.Gateway()
	m.peers[url] = &peerStatus{
		url:       url,
		lastSeen:  time.Now(),
		preferred: preferred,
		weights: map[Category]int{
			CategoryChain:     cfg.DefaultCategoryWeight,
			CategoryGetChunk:  cfg.DiscoveredChunkWeight,
			CategoryPostChunk: cfg.DefaultCategoryWeight,
		},
	}
	if preferred {
		m.peers[url].weights[CategoryGetChunk] = cfg.PreferredChunkWeight
	}
	return nil
}

// All returns the URLs of every known peer.
func (m *Manager) All() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	urls := make([]string, 0, len(m.peers))
	for url := range m.peers {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Count returns the number of known peers.
func (m *Manager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.peers)
}

// Height returns the last probed chain height of the given peer.
// This will error if the peer does not exist.
func (m *Manager) Height(url string) (int64, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if status, ok := m.peers[url]; ok {
		return status.height, nil
	}
	return 0, fmt.Errorf("peer %v unknown", url)
}

// LastSeen returns when the given peer last answered a probe.
// This will error if the peer does not exist.
func (m *Manager) LastSeen(url string) (time.Time, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if status, ok := m.peers[url]; ok {
		return status.lastSeen, nil
	}
	return time.Time{}, fmt.Errorf("peer %v unknown", url)
}

// Weight returns the given peer's weight in a category.
// This will error if the peer does not exist.
func (m *Manager) Weight(category Category, url string) (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if status, ok := m.peers[url]; ok {
		return status.weights[category], nil
	}
	return 0, fmt.Errorf("peer %v unknown", url)
}

// Buckets returns the given peer's advertised sync bucket coverage, or
// nil when none is known. This will error if the peer does not exist.
func (m *Manager) Buckets(url string) (*SyncBuckets, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if status, ok := m.peers[url]; ok {
		return status.syncBuckets, nil
	}
	return nil, fmt.Errorf("peer %v unknown", url)
}

// ReportSuccess raises the peer's weight in the category by the
// configured delta, capped at the ceiling. Reports about unknown peers
// are ignored, with one exception: a success against a configured
// preferred chunk peer registers it on first use.
func (m *Manager) ReportSuccess(category Category, url string) {
	cfg := params.Gateway()
	m.lock.Lock()
	defer m.lock.Unlock()
	status, ok := m.peers[url]
	if !ok {
		if category == CategoryGetChunk && m.isPreferred(url) {
			if err := m.addLocked(url, true); err == nil {
				reportsTotal.WithLabelValues(string(category), "success").Inc()
			}
		}
		return
	}
	w := status.weights[category] + cfg.PeerWeightDelta
	if w > cfg.PeerWeightCeiling {
		w = cfg.PeerWeightCeiling
	}
	status.weights[category] = w
	reportsTotal.WithLabelValues(string(category), "success").Inc()
}

// ReportFailure lowers the peer's weight in the category by the
// configured delta, floored so the peer is never starved entirely.
// Reports about unknown peers are ignored.
func (m *Manager) ReportFailure(category Category, url string) {
	cfg := params.Gateway()
	m.lock.Lock()
	defer m.lock.Unlock()
	status, ok := m.peers[url]
	if !ok {
		return
	}
	w := status.weights[category] - cfg.PeerWeightDelta
	if w < cfg.PeerWeightFloor {
		w = cfg.PeerWeightFloor
	}
	status.weights[category] = w
	reportsTotal.WithLabelValues(string(category), "failure").Inc()
}

// WeightedPeers returns the category's candidate list. For chunk
// retrieval, configured preferred peers are listed first and keep
// their preferred weight until feedback adjusts a registered entry.
func (m *Manager) WeightedPeers(category Category) []WeightedPeer {
	cfg := params.Gateway()
	m.lock.RLock()
	defer m.lock.RUnlock()

	var out []WeightedPeer
	if category == CategoryGetChunk {
		for _, url := range m.preferred {
			if status, ok := m.peers[url]; ok {
				out = append(out, WeightedPeer{URL: url, Weight: status.weights[category]})
				continue
			}
			out = append(out, WeightedPeer{URL: url, Weight: cfg.PreferredChunkWeight})
		}
	}
	urls := make([]string, 0, len(m.peers))
	for url := range m.peers {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		status := m.peers[url]
		if status.preferred && category == CategoryGetChunk {
			continue // already listed from the preferred set
		}
		out = append(out, WeightedPeer{URL: url, Weight: status.weights[category]})
	}
	return out
}

// SelectPeers samples count peers from a category proportionally to
// their weights, with replacement. An empty category yields nil.
func (m *Manager) SelectPeers(category Category, count int) []string {
	return m.sample(m.WeightedPeers(category), count)
}

// SelectPeersForOffset samples chunk peers whose advertised sync
// buckets cover the given weave offset. When no peer claims coverage
// the full chunk category is sampled instead.
func (m *Manager) SelectPeersForOffset(absoluteOffset uint64, count int) []string {
	cfg := params.Gateway()
	m.lock.RLock()
	var covering []WeightedPeer
	urls := make([]string, 0, len(m.peers))
	for url := range m.peers {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		status := m.peers[url]
		if status.syncBuckets.Covers(absoluteOffset, cfg.SyncBucketShareMinimum) {
			covering = append(covering, WeightedPeer{URL: url, Weight: status.weights[CategoryGetChunk]})
		}
	}
	m.lock.RUnlock()

	if len(covering) == 0 {
		return m.SelectPeers(CategoryGetChunk, count)
	}
	return m.sample(covering, count)
}

// sample draws count entries proportionally to weight, with replacement.
func (m *Manager) sample(candidates []WeightedPeer, count int) []string {
	if len(candidates) == 0 || count <= 0 {
		return nil
	}
	cum := make([]int, len(candidates))
	total := 0
	for i, p := range candidates {
		if p.Weight > 0 {
			total += p.Weight
		}
		cum[i] = total
	}
	if total == 0 {
		return nil
	}
	out := make([]string, 0, count)
	m.rngLock.Lock()
	defer m.rngLock.Unlock()
	for i := 0; i < count; i++ {
		r := m.rng.Intn(total)
		j := sort.SearchInts(cum, r+1)
		out = append(out, candidates[j].URL)
	}
	return out
}

func (m *Manager) isPreferred(url string) bool {
	for _, p := range m.preferred {
		if p == url {
			return true
		}
	}
	return false
}

// normalizePeerURL turns a host:port entry from a peer list into a
// dialable base URL.
func normalizePeerURL(entry string) string {
	entry = strings.TrimSpace(strings.TrimSuffix(entry, "/"))
	if entry == "" {
		return ""
	}
	if !strings.Contains(entry, "://") {
		entry = "http://" + entry
	}
	return entry
}
