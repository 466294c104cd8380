// Package flags contains all configuration runtime flags for
// the gateway node.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// HTTPHostFlag defines the host on which the gateway data server runs.
	HTTPHostFlag = &cli.StringFlag{
		Name:  "http-host",
		Usage: "Host on which the gateway data server runs",
		Value: "0.0.0.0",
	}
	// HTTPPortFlag defines the port on which the gateway data server runs.
	HTTPPortFlag = &cli.IntFlag{
		Name:  "http-port",
		Usage: "Port on which the gateway data server runs",
		Value: 4000,
	}
	// HTTPCorsDomainFlag defines the accepted cross origin domains.
	HTTPCorsDomainFlag = &cli.StringFlag{
		Name:  "http-cors-domain",
		Usage: "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Value: "*",
	}
	// RootHostFlag defines the apex host this gateway serves under.
	RootHostFlag = &cli.StringFlag{
		Name:  "root-host",
		Usage: "Apex host this gateway serves. Subdomain labels below it resolve as names",
	}
	// TrustedNodeFlag defines the URL of the trusted chain node.
	TrustedNodeFlag = &cli.StringFlag{
		Name:  "trusted-node",
		Usage: "URL of the trusted chain node used for offsets, chunks and the peer list",
		Value: "https://arweave.net",
	}
	// TrustedGatewayFlag defines peer gateways proxied to before chunk
	// retrieval. This flag may be used multiple times.
	TrustedGatewayFlag = &cli.StringSliceFlag{
		Name:  "trusted-gateway",
		Usage: "URL of a trusted gateway to proxy data requests to before falling back to chunk retrieval. This flag may be used multiple times",
	}
	// IgnorePeerFlag defines peers excluded from chunk retrieval.
	IgnorePeerFlag = &cli.StringSliceFlag{
		Name:  "ignore-peer",
		Usage: "Peer host never used for chunk retrieval. This flag may be used multiple times",
	}
	// PreferredChunkPeerFlag defines peers tried first for chunk retrieval.
	PreferredChunkPeerFlag = &cli.StringSliceFlag{
		Name:  "preferred-chunk-peer",
		Usage: "Peer host tried before discovered peers for chunk retrieval. This flag may be used multiple times",
	}
	// BlocklistFileFlag defines the path of the blocklist file.
	BlocklistFileFlag = &cli.StringFlag{
		Name:  "blocklist-file",
		Usage: "Path to a file with one blocked transaction id per line. The file is watched and reloaded on change",
	}
	// NameRecordFlag defines static name records for host based resolution.
	NameRecordFlag = &cli.StringSliceFlag{
		Name:  "name-record",
		Usage: "Static name record of the form name=transaction-id for host based resolution. This flag may be used multiple times",
	}
	// MonitoringPortFlag defines the port used by the prometheus service.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listening and respond metrics for prometheus",
		Value: 8080,
	}
)
