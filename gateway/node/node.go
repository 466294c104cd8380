// Package node is the main service which launches a gateway node and
// manages the lifecycle of all its associated services at runtime, such
// as peer discovery, data retrieval and the HTTP frontend, gracefully
// closing them if the process ends.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/permagate/permagate/cmd"
	"github.com/permagate/permagate/cmd/gateway/flags"
	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arns"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/blocklist"
	"github.com/permagate/permagate/gateway/cache"
	"github.com/permagate/permagate/gateway/chain"
	"github.com/permagate/permagate/gateway/db"
	"github.com/permagate/permagate/gateway/db/kv"
	"github.com/permagate/permagate/gateway/manifest"
	"github.com/permagate/permagate/gateway/peers"
	"github.com/permagate/permagate/gateway/server"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/gateway/store"
	"github.com/permagate/permagate/monitoring/prometheus"
	"github.com/permagate/permagate/monitoring/tracing"
	"github.com/permagate/permagate/runtime"
	"github.com/permagate/permagate/runtime/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	chunkDirName = "chunks"
	dataDirName  = "contiguous"
)

// GatewayNode defines a struct that handles the services running an
// Arweave gateway. It handles the lifecycle of the entire system and
// registers services to a service registry.
type GatewayNode struct {
	cliCtx     *cli.Context
	ctx        context.Context
	cancel     context.CancelFunc
	services   *runtime.ServiceRegistry
	lock       sync.RWMutex
	stop       chan struct{} // Channel to wait for termination notifications.
	db         db.Database
	chunkStore *store.ChunkStore
	dataStore  *store.DataStore
	trusted    *chain.Client
	hosts      *chain.HostClient
	peers      *peers.Manager
	blocklist  blocklist.Checker
	data       sources.ContiguousDataSource
	manifests  *manifest.Resolver
	names      arns.Resolver
}

// New creates a new node instance, sets up configuration options, and
// registers every required service to the node.
func New(cliCtx *cli.Context) (*GatewayNode, error) {
	if err := tracing.Setup(
		"gateway", // service name
		cliCtx.String(cmd.TracingProcessNameFlag.Name),
		cliCtx.String(cmd.TracingEndpointFlag.Name),
		cliCtx.Float64(cmd.TraceSampleFractionFlag.Name),
		cliCtx.Bool(cmd.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}

	if cliCtx.IsSet(cmd.GatewayConfigFileFlag.Name) {
		params.LoadConfigFile(cliCtx.String(cmd.GatewayConfigFileFlag.Name))
	}

	registry := runtime.NewServiceRegistry()

	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &GatewayNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: registry,
		stop:     make(chan struct{}),
	}

	if err := node.startDB(cliCtx); err != nil {
		return nil, err
	}

	if err := node.startStores(cliCtx); err != nil {
		return nil, err
	}

	if err := node.startChainClients(cliCtx); err != nil {
		return nil, err
	}

	if err := node.registerPeerManager(cliCtx); err != nil {
		return nil, err
	}

	if err := node.startBlocklist(cliCtx); err != nil {
		return nil, err
	}

	if err := node.startDataSources(cliCtx); err != nil {
		return nil, err
	}

	if err := node.startResolvers(cliCtx); err != nil {
		return nil, err
	}

	if err := node.registerServer(cliCtx); err != nil {
		return nil, err
	}

	if !cliCtx.Bool(cmd.DisableMonitoringFlag.Name) {
		if err := node.registerPrometheusService(cliCtx); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// Start the GatewayNode and kicks off every registered service.
func (g *GatewayNode) Start() {
	g.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.GetVersion(),
	}).Info("Starting gateway node")

	g.services.StartAll()

	stop := g.stop
	g.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go g.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the gateway node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (g *GatewayNode) Close() {
	g.lock.Lock()
	defer g.lock.Unlock()

	log.Info("Stopping gateway node")
	g.services.StopAll()
	if err := g.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	g.cancel()
	close(g.stop)
}

func (g *GatewayNode) startDB(cliCtx *cli.Context) error {
	dbPath := filepath.Join(dataDir(cliCtx), kv.GatewayDbDirName)
	clearDB := cliCtx.Bool(cmd.ClearDB.Name)
	forceClearDB := cliCtx.Bool(cmd.ForceClearDB.Name)

	log.WithField("database-path", dbPath).Info("Checking DB")

	d, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	if clearDB && !forceClearDB {
		d, err = confirmDelete(d, dbPath)
		if err != nil {
			return err
		}
	} else if forceClearDB {
		log.Warning("Removing database")
		if err := d.Close(); err != nil {
			return errors.Wrap(err, "could not close db prior to clearing")
		}
		if err := d.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		d, err = db.NewDB(dbPath)
		if err != nil {
			return errors.Wrap(err, "could not create new database")
		}
	}

	g.db = d
	return nil
}

func (g *GatewayNode) startStores(cliCtx *cli.Context) error {
	baseDir := dataDir(cliCtx)
	chunks, err := store.NewChunkStore(filepath.Join(baseDir, chunkDirName))
	if err != nil {
		return errors.Wrap(err, "could not create chunk store")
	}
	contiguous, err := store.NewDataStore(filepath.Join(baseDir, dataDirName))
	if err != nil {
		return errors.Wrap(err, "could not create contiguous data store")
	}
	g.chunkStore = chunks
	g.dataStore = contiguous
	return nil
}

func (g *GatewayNode) startChainClients(cliCtx *cli.Context) error {
	trusted, err := chain.NewClient(&chain.Config{
		URL: cliCtx.String(flags.TrustedNodeFlag.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not create trusted node client")
	}
	g.trusted = trusted
	g.hosts = chain.NewHostClient(nil)
	return nil
}

func (g *GatewayNode) registerPeerManager(cliCtx *cli.Context) error {
	m := peers.NewManager(g.ctx, &peers.Config{
		Lister:              g.trusted,
		Hosts:               g.hosts,
		IgnoredPeers:        cliCtx.StringSlice(flags.IgnorePeerFlag.Name),
		PreferredChunkPeers: cliCtx.StringSlice(flags.PreferredChunkPeerFlag.Name),
	})
	g.peers = m
	return g.services.RegisterService(m)
}

func (g *GatewayNode) startBlocklist(cliCtx *cli.Context) error {
	if !cliCtx.IsSet(flags.BlocklistFileFlag.Name) {
		return nil
	}
	blk, err := blocklist.NewFileBlocklist(cliCtx.String(flags.BlocklistFileFlag.Name))
	if err != nil {
		return errors.Wrap(err, "could not load blocklist file")
	}
	go blk.Watch(g.ctx)
	g.blocklist = blk
	return nil
}

// startDataSources assembles the retrieval chain: trusted gateways are
// proxied first, then chunk by chunk reconstruction, then the trusted
// node's whole payload endpoint as a last resort. The chain is wrapped
// in the read-through payload cache.
func (g *GatewayNode) startDataSources(cliCtx *cli.Context) error {
	peerChunks := sources.NewPeerChunkSource(g.peers, g.hosts)
	trustedChunks := sources.NewTrustedNodeChunkSource(g.trusted)
	metadata := sources.NewCompositeChunkMetadataSource(peerChunks, trustedChunks)
	chunkData := cache.NewReadThroughChunkDataCache(peerChunks, g.chunkStore)
	chunks := sources.NewFullChunkSource(metadata, chunkData)

	selfID := cliCtx.String(flags.RootHostFlag.Name)
	var children []sources.ContiguousDataSource
	for _, gw := range cliCtx.StringSlice(flags.TrustedGatewayFlag.Name) {
		src, err := sources.NewGatewayDataSource(gw, selfID, nil)
		if err != nil {
			return errors.Wrapf(err, "could not create gateway source for %s", gw)
		}
		children = append(children, src)
	}
	children = append(children, sources.NewTxChunksDataSource(g.trusted, chunks))
	children = append(children, sources.NewTrustedNodeDataSource(g.trusted))

	seq := sources.NewSequentialDataSource(children...)
	g.data = cache.NewReadThroughDataCache(seq, g.dataStore, g.db, nil, g.blocklist)
	return nil
}

func (g *GatewayNode) startResolvers(cliCtx *cli.Context) error {
	manifests, err := manifest.NewResolver(g.db)
	if err != nil {
		return errors.Wrap(err, "could not create manifest resolver")
	}
	g.manifests = manifests

	records, err := parseNameRecords(cliCtx.StringSlice(flags.NameRecordFlag.Name))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	resolver, err := arns.NewCachedResolver(arns.NewStatic(records, 0))
	if err != nil {
		return errors.Wrap(err, "could not create name resolver")
	}
	g.names = resolver
	return nil
}

func (g *GatewayNode) registerServer(cliCtx *cli.Context) error {
	svc, err := server.New(g.ctx, &server.Config{
		Host:           cliCtx.String(flags.HTTPHostFlag.Name),
		Port:           cliCtx.Int(flags.HTTPPortFlag.Name),
		RootHost:       cliCtx.String(flags.RootHostFlag.Name),
		AllowedOrigins: strings.Split(cliCtx.String(flags.HTTPCorsDomainFlag.Name), ","),
		Data:           g.data,
		Attributes:     g.db,
		Manifests:      g.manifests,
		Names:          g.names,
		Blocklist:      g.blocklist,
	})
	if err != nil {
		return err
	}
	return g.services.RegisterService(svc)
}

func (g *GatewayNode) registerPrometheusService(cliCtx *cli.Context) error {
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", cliCtx.String(cmd.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name)),
		g.services,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return g.services.RegisterService(service)
}

func dataDir(cliCtx *cli.Context) string {
	baseDir := cliCtx.String(cmd.DataDirFlag.Name)
	if baseDir == "" {
		baseDir = cmd.DefaultDataDir()
		if baseDir == "" {
			log.Fatal(
				"Could not determine your system's HOME path, please specify a --datadir you wish " +
					"to use for your gateway data",
			)
		}
	}
	return baseDir
}

func parseNameRecords(entries []string) (map[string]arweave.ID, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	records := make(map[string]arweave.ID, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, errors.Errorf("invalid name record %q, expected name=transaction-id", entry)
		}
		id, err := arweave.IDFromString(parts[1])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid transaction id in name record %q", entry)
		}
		records[parts[0]] = id
	}
	return records, nil
}
