// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package peer assembles the router, its pools, the consistency engine, the
// health reporter and the document store into a running process.
package peer

import (
	"context"
	"errors"
	"net"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/regionshard/consistency"
	"storj.io/regionshard/docstore"
	"storj.io/regionshard/driver/sqldriver"
	"storj.io/regionshard/health"
	"storj.io/regionshard/learningdb"
	"storj.io/regionshard/pool"
	"storj.io/regionshard/private/lifecycle"
	"storj.io/regionshard/router"
	"storj.io/regionshard/topology"
)

var (
	mon = monkit.Package()

	// Error is the peer error class.
	Error = errs.Class("peer")
)

// Config is the configuration of a regionshard process.
type Config struct {
	Topology     topology.Config `mapstructure:"topology"`
	Database     sqldriver.Config
	Pool         pool.Config
	Router       router.Config
	Health       health.Config
	HealthServer health.ServerConfig
	Docstore     docstore.Config
}

// Peer is a regionshard process.
type Peer struct {
	Log *zap.Logger

	Servers  *lifecycle.Group
	Services *lifecycle.Group

	Topology *topology.Topology
	Driver   *sqldriver.Driver
	Pools    *pool.Set
	Engine   *consistency.Engine
	Router   *router.Router
	DB       *learningdb.DB

	// Docs is nil when no document store is configured.
	Docs *docstore.Store

	Health struct {
		Reporter *health.Reporter
		Listener net.Listener
		Server   *health.Server
	}
}

// New creates a peer. Nothing is dialed until Run.
func New(log *zap.Logger, config Config) (_ *Peer, err error) {
	peer := &Peer{
		Log:      log,
		Servers:  lifecycle.NewGroup(log.Named("servers")),
		Services: lifecycle.NewGroup(log.Named("services")),
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, peer.Close())
		}
	}()

	if len(config.Topology.Regions) == 0 {
		config.Topology.Regions = topology.DefaultRegions()
	}
	peer.Topology, err = topology.New(config.Topology)
	if err != nil {
		return nil, err
	}

	peer.Driver, err = sqldriver.New(log.Named("driver"), config.Database, sqldriver.EnvCredentials)
	if err != nil {
		return nil, err
	}

	{ // document store
		if config.Docstore.Address != "" {
			peer.Docs, err = docstore.Open(log.Named("docstore"), config.Docstore.Address)
			if err != nil {
				return nil, err
			}
		}
	}

	{ // health
		var docs health.DocumentStore
		if peer.Docs != nil {
			docs = peer.Docs
		}
		peer.Health.Reporter = health.NewReporter(log.Named("health"), peer.Topology, peer.Driver, docs, config.Health)
		peer.Services.Add(lifecycle.Item{
			Name:  "health:reporter",
			Run:   peer.Health.Reporter.Run,
			Close: peer.Health.Reporter.Close,
		})

		if config.HealthServer.Enabled {
			peer.Health.Listener, err = net.Listen("tcp", config.HealthServer.Address)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			peer.Health.Server = health.NewServer(log.Named("health:server"), peer.Health.Listener, peer.Health.Reporter)
			peer.Servers.Add(lifecycle.Item{
				Name:  "health:server",
				Run:   peer.Health.Server.Run,
				Close: peer.Health.Server.Close,
			})
			log.Info("health server listening", zap.String("address", peer.Health.Server.Addr()))
		}
	}

	{ // routing
		peer.Pools = pool.NewSet(log.Named("pool"), peer.Topology, peer.Driver, config.Pool)
		peer.Services.Add(lifecycle.Item{
			Name: "pool:prune",
			Run:  peer.Pools.Run,
		})

		peer.Engine = consistency.NewEngine(log.Named("consistency"), peer.Driver.Implementation())
		peer.Router, err = router.New(log.Named("router"), peer.Topology, peer.Pools, peer.Health.Reporter, peer.Engine, config.Router)
		if err != nil {
			return nil, err
		}
		peer.DB = learningdb.New(log.Named("learningdb"), peer.Router, peer.Driver.Implementation())
	}

	return peer, nil
}

// Run warms the pools and runs the servers and services until ctx is
// canceled or one of them fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := peer.Pools.Warm(ctx); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	peer.Servers.Run(ctx, group)
	peer.Services.Run(ctx, group)
	return group.Wait()
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	var errlist errs.Group
	if peer.Servers != nil {
		errlist.Add(peer.Servers.Close())
	}
	if peer.Services != nil {
		errlist.Add(peer.Services.Close())
	}
	if peer.Pools != nil {
		errlist.Add(peer.Pools.Close())
	}
	if peer.Health.Listener != nil {
		if err := peer.Health.Listener.Close(); !errors.Is(err, net.ErrClosed) {
			errlist.Add(err)
		}
	}
	if peer.Docs != nil {
		errlist.Add(peer.Docs.Close())
	}
	if peer.Driver != nil {
		errlist.Add(peer.Driver.Close())
	}
	return errlist.Err()
}
