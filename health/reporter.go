// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package health probes every endpoint of the topology and publishes the
// results for the router and for operators.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/private/sync2"
	"storj.io/regionshard/topology"
)

var (
	mon = monkit.Package()

	// Error is the default health errs class.
	Error = errs.Class("health")
)

// Config configures the health reporter.
type Config struct {
	Interval        time.Duration `help:"how often endpoints are probed" default:"5s"`
	Timeout         time.Duration `help:"timeout of a single probe" default:"2s"`
	SlowThreshold   time.Duration `help:"probes taking at least this long are reported as slow" default:"500ms"`
	ProbesPerSecond float64       `help:"maximum probes started per second" default:"50"`
}

// DocumentStore is the auxiliary store probed along with the shards.
type DocumentStore interface {
	Endpoint() topology.EndpointRef
	Ping(ctx context.Context) error
}

// Reporter probes endpoints on its own schedule with dedicated connections
// that never come from the router's pools.
type Reporter struct {
	log     *zap.Logger
	topo    *topology.Topology
	driver  driver.Driver
	docs    DocumentStore
	config  Config
	limiter *rate.Limiter

	latest atomic.Pointer[Snapshot]

	Loop *sync2.Cycle
}

// NewReporter creates a reporter. docs may be nil.
func NewReporter(log *zap.Logger, topo *topology.Topology, drv driver.Driver, docs DocumentStore, config Config) *Reporter {
	limit := rate.Inf
	if config.ProbesPerSecond > 0 {
		limit = rate.Limit(config.ProbesPerSecond)
	}
	burst := len(topo.Endpoints()) + 1
	return &Reporter{
		log:     log,
		topo:    topo,
		driver:  drv,
		docs:    docs,
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		Loop:    sync2.NewCycle(config.Interval),
	}
}

// Run probes every endpoint each Interval until ctx is canceled.
func (reporter *Reporter) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if reporter.config.Interval <= 0 {
		reporter.Check(ctx)
		<-ctx.Done()
		return nil
	}
	return reporter.Loop.Run(ctx, func(ctx context.Context) error {
		reporter.Check(ctx)
		return nil
	})
}

// Close stops the probing loop.
func (reporter *Reporter) Close() error {
	reporter.Loop.Close()
	return nil
}

// Snapshot returns the latest published snapshot or nil when no check
// finished yet.
func (reporter *Reporter) Snapshot() *Snapshot {
	return reporter.latest.Load()
}

// Usable reports whether endpoint may serve reads. Endpoints that were not
// probed yet are usable; slow ones still are.
func (reporter *Reporter) Usable(endpoint topology.EndpointRef) bool {
	probe, ok := reporter.latest.Load().Lookup(endpoint)
	if !ok {
		return true
	}
	return probe.Status != Unreachable
}

// Check probes every endpoint and the document store in parallel, publishes
// the snapshot and returns it.
func (reporter *Reporter) Check(ctx context.Context) *Snapshot {
	var err error
	defer mon.Task()(&ctx)(&err)

	type target struct {
		shard    topology.ShardID
		endpoint topology.EndpointRef
	}
	var targets []target
	for _, shard := range reporter.topo.Shards() {
		for _, endpoint := range shard.Endpoints() {
			targets = append(targets, target{shard: shard.ID, endpoint: endpoint})
		}
	}

	probes := make([]Probe, len(targets), len(targets)+1)
	var group errgroup.Group
	for i, t := range targets {
		i, t := i, t
		group.Go(func() error {
			probes[i] = reporter.probe(ctx, t.shard, t.endpoint, reporter.ping)
			return nil
		})
	}
	var docs Probe
	if reporter.docs != nil {
		group.Go(func() error {
			docs = reporter.probe(ctx, 0, reporter.docs.Endpoint(), func(ctx context.Context, _ topology.EndpointRef) error {
				return reporter.docs.Ping(ctx)
			})
			return nil
		})
	}
	_ = group.Wait()
	if reporter.docs != nil {
		probes = append(probes, docs)
	}

	snapshot := newSnapshot(time.Now(), probes)
	previous := reporter.latest.Swap(snapshot)
	reporter.logChanges(previous, snapshot)

	reachable, total := snapshot.Counts()
	mon.IntVal("reachable_endpoints").Observe(int64(reachable))
	mon.IntVal("unreachable_endpoints").Observe(int64(total - reachable))
	return snapshot
}

func (reporter *Reporter) probe(ctx context.Context, shard topology.ShardID, endpoint topology.EndpointRef, ping func(context.Context, topology.EndpointRef) error) Probe {
	probe := Probe{Endpoint: endpoint, ShardID: shard}

	if err := reporter.limiter.Wait(ctx); err != nil {
		probe.Status = Unreachable
		probe.Err = err
		return probe
	}

	if reporter.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reporter.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := ping(ctx, endpoint)
	probe.Latency = time.Since(start)

	switch {
	case err != nil:
		probe.Status = Unreachable
		probe.Err = err
	case reporter.config.SlowThreshold > 0 && probe.Latency >= reporter.config.SlowThreshold:
		probe.Status = SlowResponding
	default:
		probe.Status = Healthy
	}
	return probe
}

// ping opens a dedicated connection and pings it.
func (reporter *Reporter) ping(ctx context.Context, endpoint topology.EndpointRef) (err error) {
	conn, err := reporter.driver.Open(ctx, endpoint)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, conn.Close()) }()

	return conn.PingContext(ctx)
}

func (reporter *Reporter) logChanges(previous, current *Snapshot) {
	for _, probe := range current.Probes {
		before, known := previous.Lookup(probe.Endpoint)
		if known && before.Status == probe.Status {
			continue
		}
		if !known && probe.Status == Healthy {
			continue
		}
		fields := []zap.Field{
			zap.Stringer("endpoint", probe.Endpoint),
			zap.Stringer("status", probe.Status),
			zap.Duration("latency", probe.Latency),
		}
		if probe.Err != nil {
			fields = append(fields, zap.Error(probe.Err))
		}
		if probe.Status == Healthy {
			reporter.log.Info("endpoint recovered", fields...)
		} else {
			reporter.log.Warn("endpoint degraded", fields...)
		}
	}
}
