// Package params defines the runtime parameters of the gateway. A
// single GatewayConfig value holds every tunable used across the data
// retrieval pipeline, and may be replaced wholesale from a YAML file
// or adjusted by individual command line flags.
package params

import (
	"time"

	"github.com/mohae/deepcopy"
)

// GatewayConfig defines the tunable parameters of the gateway.
type GatewayConfig struct {
	// Chunk geometry. These mirror the chain's transaction data format
	// and are not expected to change between deployments.
	MaxChunkSize uint64 `yaml:"MAX_CHUNK_SIZE"` // MaxChunkSize is the maximum size of a single data chunk in bytes.
	MinChunkSize uint64 `yaml:"MIN_CHUNK_SIZE"` // MinChunkSize is the minimum size of a non-final data chunk in bytes.

	// Peer management.
	SyncBucketSize         uint64        `yaml:"SYNC_BUCKET_SIZE"`          // SyncBucketSize is the weave span covered by one peer sync bucket.
	PeerWeightFloor        int           `yaml:"PEER_WEIGHT_FLOOR"`         // PeerWeightFloor is the minimum selection weight of a known peer.
	PeerWeightCeiling      int           `yaml:"PEER_WEIGHT_CEILING"`       // PeerWeightCeiling is the maximum selection weight of a known peer.
	PeerWeightDelta        int           `yaml:"PEER_WEIGHT_DELTA"`         // PeerWeightDelta is the weight adjustment applied per success or failure report.
	DiscoveredChunkWeight  int           `yaml:"DISCOVERED_CHUNK_WEIGHT"`   // DiscoveredChunkWeight is the initial chunk retrieval weight of a freshly discovered peer.
	PreferredChunkWeight   int           `yaml:"PREFERRED_CHUNK_WEIGHT"`    // PreferredChunkWeight is the initial chunk retrieval weight of an operator-preferred peer.
	DefaultCategoryWeight  int           `yaml:"DEFAULT_CATEGORY_WEIGHT"`   // DefaultCategoryWeight is the initial weight of a peer in the remaining categories.
	PeerRefreshInterval    time.Duration `yaml:"PEER_REFRESH_INTERVAL"`     // PeerRefreshInterval is how often the trusted node peer list is refreshed.
	BucketRefreshInterval  time.Duration `yaml:"BUCKET_REFRESH_INTERVAL"`   // BucketRefreshInterval is how often peer sync bucket maps are refreshed.
	ProbeParallelism       int           `yaml:"PROBE_PARALLELISM"`         // ProbeParallelism bounds concurrent peer probe requests during a refresh.
	ProbeTimeout           time.Duration `yaml:"PROBE_TIMEOUT"`             // ProbeTimeout bounds a single peer probe request.
	PeerChunkTimeout       time.Duration `yaml:"PEER_CHUNK_TIMEOUT"`        // PeerChunkTimeout bounds a single chunk request against a peer.
	PeerCandidates         int           `yaml:"PEER_CANDIDATES"`           // PeerCandidates is how many peers are drawn for one chunk retrieval attempt.
	MetadataSourceTimeout  time.Duration `yaml:"METADATA_SOURCE_TIMEOUT"`   // MetadataSourceTimeout bounds a single chunk metadata lookup.
	SyncBucketShareMinimum float64       `yaml:"SYNC_BUCKET_SHARE_MINIMUM"` // SyncBucketShareMinimum is the smallest advertised share that counts as coverage.

	// Trusted node access.
	TrustedNodeRequestsPerSecond float64       `yaml:"TRUSTED_NODE_REQUESTS_PER_SECOND"` // TrustedNodeRequestsPerSecond is the sustained request rate against the trusted node.
	TrustedNodeBurstSeconds      int64         `yaml:"TRUSTED_NODE_BURST_SECONDS"`       // TrustedNodeBurstSeconds sizes the trusted node rate limiter bucket in seconds of sustained rate.
	TrustedNodeRequestQueue      int           `yaml:"TRUSTED_NODE_REQUEST_QUEUE"`       // TrustedNodeRequestQueue bounds requests waiting on the trusted node limiter.
	TrustedNodeRequestRetries    int           `yaml:"TRUSTED_NODE_REQUEST_RETRIES"`     // TrustedNodeRequestRetries is the attempt budget for one trusted node request.
	TrustedNodeRequestTimeout    time.Duration `yaml:"TRUSTED_NODE_REQUEST_TIMEOUT"`     // TrustedNodeRequestTimeout bounds a single trusted node request.

	// Retrieval pipeline.
	ForkDepth           uint64        `yaml:"FORK_DEPTH"`            // ForkDepth is the confirmation depth at which chain data is considered stable.
	MaxHops             int           `yaml:"MAX_HOPS"`              // MaxHops is the maximum gateway relay depth before a request is rejected.
	RangePrefetchWindow int           `yaml:"RANGE_PREFETCH_WINDOW"` // RangePrefetchWindow is how many chunks ahead a range read fetches.
	HotChunkTTL         time.Duration `yaml:"HOT_CHUNK_TTL"`         // HotChunkTTL is how long a fetched chunk stays in the in-memory hot cache.
	TxOffsetTTL         time.Duration `yaml:"TX_OFFSET_TTL"`         // TxOffsetTTL is how long resolved transaction offsets are memoized.
	ManifestMaxSize     uint64        `yaml:"MANIFEST_MAX_SIZE"`     // ManifestMaxSize bounds the size of a parsed path manifest in bytes.
	ManifestMaxDepth    int           `yaml:"MANIFEST_MAX_DEPTH"`    // ManifestMaxDepth bounds the nesting depth of a parsed path manifest.
	ManifestCacheSize   int           `yaml:"MANIFEST_CACHE_SIZE"`   // ManifestCacheSize is how many parsed manifests are kept in memory.

	// Response caching directives, in seconds.
	StableDataMaxAge   int64 `yaml:"STABLE_DATA_MAX_AGE"`   // StableDataMaxAge is the client cache lifetime for stable data.
	UnstableDataMaxAge int64 `yaml:"UNSTABLE_DATA_MAX_AGE"` // UnstableDataMaxAge is the client cache lifetime for unconfirmed data.
	NotFoundMaxAge     int64 `yaml:"NOT_FOUND_MAX_AGE"`     // NotFoundMaxAge is the client cache lifetime for negative responses.

	// Name resolution.
	NameCacheEntries int64         `yaml:"NAME_CACHE_ENTRIES"` // NameCacheEntries sizes the resolved name cache.
	NameResolveTTL   time.Duration `yaml:"NAME_RESOLVE_TTL"`   // NameResolveTTL is the fallback lifetime of a resolved name record.
}

var gatewayConfig = mainnetGatewayConfig

// Gateway retrieves the gateway config.
func Gateway() *GatewayConfig {
	return gatewayConfig
}

// OverrideGatewayConfig replaces the gateway config with the supplied one.
func OverrideGatewayConfig(cfg *GatewayConfig) {
	gatewayConfig = cfg
}

// Copy returns a deep copy of the config object.
func (c *GatewayConfig) Copy() *GatewayConfig {
	config, ok := deepcopy.Copy(*c).(GatewayConfig)
	if !ok {
		config = *gatewayConfig
	}
	return &config
}
