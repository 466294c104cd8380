package params

import "time"

// MainnetConfig returns the configuration to be used against the main
// Arweave network.
func MainnetConfig() *GatewayConfig {
	return mainnetGatewayConfig
}

// UseMainnetConfig for gateway services.
func UseMainnetConfig() {
	OverrideGatewayConfig(MainnetConfig())
}

var mainnetGatewayConfig = &GatewayConfig{
	// Chunk geometry.
	MaxChunkSize: 256 * 1024,
	MinChunkSize: 32 * 1024,

	// Peer management.
	SyncBucketSize:         10 * 1024 * 1024 * 1024,
	PeerWeightFloor:        1,
	PeerWeightCeiling:      100,
	PeerWeightDelta:        5,
	DiscoveredChunkWeight:  1,
	PreferredChunkWeight:   100,
	DefaultCategoryWeight:  50,
	PeerRefreshInterval:    10 * time.Minute,
	BucketRefreshInterval:  5 * time.Minute,
	ProbeParallelism:       10,
	ProbeTimeout:           5 * time.Second,
	PeerChunkTimeout:       10 * time.Second,
	PeerCandidates:         3,
	MetadataSourceTimeout:  10 * time.Second,
	SyncBucketShareMinimum: 0,

	// Trusted node access.
	TrustedNodeRequestsPerSecond: 15,
	TrustedNodeBurstSeconds:      300,
	TrustedNodeRequestQueue:      100,
	TrustedNodeRequestRetries:    5,
	TrustedNodeRequestTimeout:    15 * time.Second,

	// Retrieval pipeline.
	ForkDepth:           18,
	MaxHops:             3,
	RangePrefetchWindow: 3,
	HotChunkTTL:         5 * time.Second,
	TxOffsetTTL:         30 * time.Second,
	ManifestMaxSize:     10 * 1024 * 1024,
	ManifestMaxDepth:    32,
	ManifestCacheSize:   128,

	// Response caching directives.
	StableDataMaxAge:   2592000, // 30 days.
	UnstableDataMaxAge: 7200,
	NotFoundMaxAge:     60,

	// Name resolution.
	NameCacheEntries: 10000,
	NameResolveTTL:   15 * time.Minute,
}
