package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lthibault/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"

	"github.com/blocknative/devnode/api"
	"github.com/blocknative/devnode/api/inner"
	"github.com/blocknative/devnode/cmd/devnode/config"
	fileS "github.com/blocknative/devnode/cmd/devnode/config/source/file"
	"github.com/blocknative/devnode/datastore"
	"github.com/blocknative/devnode/metrics"
	"github.com/blocknative/devnode/node"
	"github.com/blocknative/devnode/pubsub"
	"github.com/blocknative/devnode/rpc"
)

const shutdownTimeout = 15 * time.Second

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "loglvl",
		Usage:   "logging level: trace, debug, info, warn, error or fatal",
		Value:   "info",
		EnvVars: []string{"DEVNODE_LOGLVL"},
	},
	&cli.StringFlag{
		Name:  "logfmt",
		Usage: "format logs as text, json, pretty or none",
		Value: "text",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "ini configuration `file`; SIGHUP reloads it",
	},
	&cli.StringFlag{
		Name:  "addr",
		Usage: "JSON-RPC listen address, HTTP and websocket",
	},
	&cli.StringFlag{
		Name:  "internal-addr",
		Usage: "listen address for metrics, pprof and the admin endpoints",
	},
	&cli.StringFlag{
		Name:  "backend",
		Usage: "block storage: memory or badger",
	},
	&cli.StringFlag{
		Name:  "datadir",
		Usage: "badger data `dir`",
	},
	&cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "chain id reported by eth_chainId",
	},
	&cli.Int64Flag{
		Name:  "batch-concurrency",
		Usage: "calls of one batch run in parallel, 0 for no bound",
	},
}

func main() {
	app := &cli.App{
		Name:    "devnode",
		Usage:   "local development chain node",
		Version: node.DefaultClientVersion,
		Flags:   flags,
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	termSig := make(chan os.Signal, 2)
	signal.Notify(termSig, syscall.SIGTERM, syscall.SIGINT)
	go waitForSignal(cancel, termSig)

	logger := logger(c.String("loglvl"), c.String("logfmt"), os.Stdout)

	cfg := config.NewConfigManager(fileS.NewSource(c.String("config")))
	if c.IsSet("config") {
		if err := cfg.Load(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		reloadSig := make(chan os.Signal, 2)
		signal.Notify(reloadSig, syscall.SIGHUP)
		go reloadConfigSignal(logger, reloadSig, cfg)
	}
	applyFlags(c, cfg.Config)

	m := metrics.NewMetrics()
	hub := pubsub.NewHub()
	logging := atomic.NewBool(cfg.Node.LoggingEnabled)

	nconf := node.Config{
		ChainID:          cfg.Node.ChainID,
		GasLimit:         cfg.Node.GasLimit,
		GenesisTimestamp: cfg.Node.GenesisTimestamp,
	}

	timeNodeStart := time.Now()
	n, closeStore, err := newNode(ctx, logger, cfg.Config, nconf, hub, logging, m)
	if err != nil {
		return err
	}
	defer closeStore()

	n.Heights().AttachMetrics(m)
	cfg.Node.SubscribeForUpdates(n)

	logger.With(log.F{
		"service":     "node",
		"backend":     cfg.Node.Backend,
		"chainId":     nconf.ChainID,
		"startTimeMs": time.Since(timeNodeStart).Milliseconds(),
	}).Info("initialized")

	d := rpc.NewDispatcher(logger, n, rpc.Config{BatchConcurrency: cfg.Rpc.BatchConcurrency})
	d.AttachMetrics(m)
	cfg.Rpc.SubscribeForUpdates(d)

	pm := pubsub.NewMetrics()
	pm.AttachMetrics(m)

	a := api.NewApi(logger, d, n, hub, pm, api.Config{
		MaxBodySize:  cfg.Api.MaxBodySize,
		WriteQueue:   cfg.Api.WSWriteQueue,
		WriteTimeout: cfg.ExternalHttp.WriteTimeout,
		PingInterval: cfg.Api.WSPingInterval,
	})
	a.AttachMetrics(m)
	cfg.Api.SubscribeForUpdates(a)

	iApi := inner.NewAPI(toggles{"loggingEnabled": logging}, n)
	internalMux := http.NewServeMux()
	iApi.AttachToHandler(internalMux)
	metrics.AttachProfiler(internalMux)
	internalMux.Handle("/metrics", m.Handler())

	internalSrv := &http.Server{
		Addr:    cfg.InternalHttp.Address,
		Handler: internalMux,
	}
	go serve(logger.WithField("server", "internal"), internalSrv, cancel)

	mux := http.NewServeMux()
	a.AttachToHandler(mux)

	// websocket connections outlive the read and write timeouts, they
	// manage their own deadlines
	srv := &http.Server{
		Addr:              cfg.ExternalHttp.Address,
		ReadHeaderTimeout: cfg.ExternalHttp.ReadTimeout,
		IdleTimeout:       cfg.ExternalHttp.IdleTimeout,
		Handler:           mux,
		MaxHeaderBytes:    1 << 16,
	}
	go serve(logger.WithField("server", "rpc"), srv, cancel)

	<-ctx.Done()

	sctx, closeC := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeC()

	logger.Info("shutdown initialized")
	if err := srv.Shutdown(sctx); err != nil {
		logger.WithError(err).Warn("rpc server shutdown")
	}
	if err := a.Shutdown(sctx); err != nil {
		logger.WithError(err).Warn("websocket connections did not drain")
	}
	if err := internalSrv.Shutdown(sctx); err != nil {
		logger.WithError(err).Warn("internal server shutdown")
	}
	logger.Info("shutdown complete")
	return nil
}

func newNode(ctx context.Context, l log.Logger, cfg *config.Config, nconf node.Config, hub *pubsub.Hub, logging *atomic.Bool, m *metrics.Metrics) (*node.Node, func(), error) {
	if cfg.Node.Backend == datastore.BackendMemory {
		return node.NewMemory(l, nconf, hub, logging), func() {}, nil
	}

	store, err := datastore.Open(l, datastore.Config{
		Backend:    cfg.Node.Backend,
		Dir:        cfg.Datastore.Dir,
		SyncWrites: cfg.Datastore.SyncWrites,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open datastore: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			l.WithError(err).Warn("failed to close datastore")
		}
	}

	if cfg.Node.Backend == datastore.BackendBadger {
		if err := datastore.InitDatastoreMetrics(m); err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("datastore metrics: %w", err)
		}
	}

	chain, err := datastore.NewChain(ctx, l, store, node.Genesis(nconf), cfg.Datastore.HeaderCacheSize)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("open chain: %w", err)
	}
	chain.AttachMetrics(m)

	return node.NewPersistent(l, nconf, chain, hub, logging), closeStore, nil
}

// applyFlags lets command line flags override the file configuration.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("addr") {
		cfg.ExternalHttp.Address = c.String("addr")
	}
	if c.IsSet("internal-addr") {
		cfg.InternalHttp.Address = c.String("internal-addr")
	}
	if c.IsSet("backend") {
		cfg.Node.Backend = c.String("backend")
	}
	if c.IsSet("datadir") {
		cfg.Datastore.Dir = c.String("datadir")
	}
	if c.IsSet("chain-id") {
		cfg.Node.ChainID = c.Uint64("chain-id")
	}
	if c.IsSet("batch-concurrency") {
		cfg.Rpc.BatchConcurrency = c.Int64("batch-concurrency")
	}
}

// serve runs srv until it is shut down. Any other failure stops the node.
func serve(l log.Logger, srv *http.Server, cancel context.CancelFunc) {
	l.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.WithError(err).Error("server failed")
		cancel()
		return
	}
	l.Info("server finished")
}

func waitForSignal(cancel context.CancelFunc, osSig chan os.Signal) {
	for range osSig {
		cancel()
		return
	}
}

func reloadConfigSignal(l log.Logger, osSig chan os.Signal, cfg *config.ConfigManager) {
	for range osSig {
		if err := cfg.Reload(); err != nil {
			l.WithError(err).Error("config reload failed")
			continue
		}
		l.Info("config reloaded")
	}
}
