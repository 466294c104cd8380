package params

import (
	"testing"
	"time"
)

// SetupTestConfigCleanup preserves the active gateway config and
// restores it when the test completes.
func SetupTestConfigCleanup(t testing.TB) {
	prevConfig := Gateway().Copy()
	t.Cleanup(func() {
		OverrideGatewayConfig(prevConfig)
	})
}

// MinimalTestConfig returns a config with intervals and budgets shrunk
// so unit tests run quickly.
func MinimalTestConfig() *GatewayConfig {
	cfg := MainnetConfig().Copy()
	cfg.PeerRefreshInterval = 50 * time.Millisecond
	cfg.BucketRefreshInterval = 50 * time.Millisecond
	cfg.ProbeTimeout = time.Second
	cfg.PeerChunkTimeout = time.Second
	cfg.MetadataSourceTimeout = time.Second
	cfg.TrustedNodeRequestTimeout = time.Second
	cfg.HotChunkTTL = 100 * time.Millisecond
	cfg.TxOffsetTTL = 100 * time.Millisecond
	return cfg
}
