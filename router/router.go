// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package router sends operations to the endpoint that should serve them.
//
// Writes always go to the primary of the shard owning the partition key.
// Reads go to a usable replica and fall back to the primary, flagged as a
// degraded read, when there is none.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/regionshard/consistency"
	"storj.io/regionshard/driver"
	"storj.io/regionshard/pool"
	"storj.io/regionshard/private/txutil"
	"storj.io/regionshard/topology"
)

var (
	mon = monkit.Package()

	// Error is the default router errs class.
	Error = errs.Class("router")
)

// HealthView tells whether an endpoint may serve reads.
type HealthView interface {
	Usable(endpoint topology.EndpointRef) bool
}

// Pools looks up the pool of an endpoint.
type Pools interface {
	Get(endpoint topology.EndpointRef) (*pool.Pool, bool)
}

// Selection is the endpoint chosen for an operation.
type Selection struct {
	ShardID  topology.ShardID
	Endpoint topology.EndpointRef
	// DegradedRead is set when a read is served by the primary because no
	// replica was usable.
	DegradedRead bool
}

// Outcome describes how an operation was executed.
type Outcome struct {
	Selection
	Attempts int
	// Report is set by Mutate.
	Report consistency.Report
}

// Operation runs statements on a leased connection.
type Operation func(ctx context.Context, conn driver.Conn) error

// TxOperation runs statements inside a transaction.
type TxOperation func(ctx context.Context, tx driver.Tx) error

// Router routes operations to shard endpoints.
type Router struct {
	log    *zap.Logger
	topo   *topology.Topology
	pools  Pools
	health HealthView
	engine *consistency.Engine
	config Config

	next map[topology.ShardID]*atomic.Uint64
}

// New creates a router. A nil health view treats every endpoint as usable.
func New(log *zap.Logger, topo *topology.Topology, pools Pools, health HealthView, engine *consistency.Engine, config Config) (*Router, error) {
	config, err := config.normalize()
	if err != nil {
		return nil, err
	}
	if health == nil {
		health = allUsable{}
	}

	router := &Router{
		log:    log,
		topo:   topo,
		pools:  pools,
		health: health,
		engine: engine,
		config: config,
		next:   make(map[topology.ShardID]*atomic.Uint64),
	}
	for _, shard := range topo.Shards() {
		router.next[shard.ID] = new(atomic.Uint64)
	}
	return router, nil
}

// Topology returns the topology the router resolves keys with.
func (router *Router) Topology() *topology.Topology { return router.topo }

// Route selects the endpoint for an operation of the given class.
func (router *Router) Route(key topology.PartitionKey, class Class) (Selection, error) {
	return router.route(key, class, nil)
}

func (router *Router) route(key topology.PartitionKey, class Class, excluded map[topology.EndpointRef]bool) (Selection, error) {
	shard, err := router.topo.Resolve(key)
	if err != nil {
		return Selection{}, err
	}

	if class == Write {
		return Selection{ShardID: shard.ID, Endpoint: shard.Primary}, nil
	}

	usable := make([]topology.EndpointRef, 0, len(shard.Replicas))
	for _, replica := range shard.Replicas {
		if excluded[replica] || !router.health.Usable(replica) {
			continue
		}
		usable = append(usable, replica)
	}

	if len(usable) == 0 {
		mon.Counter("degraded_reads").Inc(1)
		router.log.Warn("no usable replica, reading from primary",
			zap.String("key", string(key)),
			zap.Int("shard", int(shard.ID)),
			zap.Int("replicas", len(shard.Replicas)))
		return Selection{ShardID: shard.ID, Endpoint: shard.Primary, DegradedRead: true}, nil
	}

	choice := usable[0]
	if router.config.Policy == RoundRobin {
		n := router.next[shard.ID].Add(1) - 1
		choice = usable[n%uint64(len(usable))]
	}
	return Selection{ShardID: shard.ID, Endpoint: choice}, nil
}

// Execute runs op on the endpoint selected for key and class. Transient
// failures are retried with exponential backoff: an exhausted pool for both
// classes, an unreachable endpoint only for reads, which then move to another
// endpoint.
func (router *Router) Execute(ctx context.Context, key topology.PartitionKey, class Class, op Operation) (outcome Outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	config := router.config.Retry
	excluded := map[topology.EndpointRef]bool{}
	attempt := 0

	err = retry.Do(ctx, newBackoff(config), func(ctx context.Context) error {
		attempt++
		selection, err := router.route(key, class, excluded)
		if err != nil {
			return err
		}
		if excluded[selection.Endpoint] {
			return driver.ErrEndpointUnreachable.New("shard %d: no reachable endpoint", selection.ShardID)
		}
		outcome = Outcome{Selection: selection, Attempts: attempt}

		err = router.run(ctx, selection.Endpoint, op)
		if err == nil || !retryable(class, err) {
			return err
		}
		if driver.IsConnectionError(err) {
			excluded[selection.Endpoint] = true
		}
		if attempt < config.MaxAttempts {
			mon.Counter("retries").Inc(1)
			router.log.Debug("retrying operation",
				zap.Stringer("class", class),
				zap.Stringer("endpoint", selection.Endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return outcome, err
	}
	mon.IntVal("attempts").Observe(int64(attempt))
	return outcome, nil
}

// newBackoff doubles the delay from config.Backoff up to config.MaxBackoff and
// stops after config.MaxAttempts attempts.
func newBackoff(config RetryConfig) retry.Backoff {
	var base retry.Backoff
	if config.Backoff <= 0 {
		base = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	} else {
		base = retry.WithCappedDuration(config.MaxBackoff, retry.NewExponential(config.Backoff))
	}
	return retry.WithMaxRetries(uint64(config.MaxAttempts-1), base)
}

func (router *Router) run(ctx context.Context, endpoint topology.EndpointRef, op Operation) error {
	p, ok := router.pools.Get(endpoint)
	if !ok {
		return Error.New("no pool for %s", endpoint)
	}
	return p.With(ctx, op)
}

func retryable(class Class, err error) bool {
	switch {
	case topology.ErrUnknownPartition.Has(err), consistency.ErrRecomputeFailed.Has(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case pool.ErrExhausted.Has(err):
		return true
	case driver.IsConnectionError(err):
		return class == Read
	}
	return false
}

// Mutate applies a detail mutation on the primary of the shard owning key and
// recomputes the affected aggregate in the same transaction. Either both are
// committed or neither is.
func (router *Router) Mutate(ctx context.Context, key topology.PartitionKey, m consistency.Mutation, op TxOperation) (outcome Outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	if router.engine == nil {
		return outcome, Error.New("mutate without consistency engine")
	}

	var report consistency.Report
	outcome, err = router.Execute(ctx, key, Write, func(ctx context.Context, conn driver.Conn) error {
		unlock, err := router.engine.Lock(ctx, conn, m)
		if err != nil {
			return err
		}
		defer unlock()

		return txutil.WithTx(ctx, conn, nil, func(ctx context.Context, tx driver.Tx) error {
			if err := router.engine.Prepare(ctx, tx, m); err != nil {
				return err
			}
			if err := op(ctx, tx); err != nil {
				return err
			}
			var err error
			report, err = router.engine.Recompute(ctx, tx, m)
			return err
		})
	})
	if err != nil {
		return outcome, err
	}
	outcome.Report = report
	return outcome, nil
}

// Transact runs op in a transaction on the primary of the shard owning key.
func (router *Router) Transact(ctx context.Context, key topology.PartitionKey, op TxOperation) (outcome Outcome, err error) {
	defer mon.Task()(&ctx)(&err)

	return router.Execute(ctx, key, Write, func(ctx context.Context, conn driver.Conn) error {
		return txutil.WithTx(ctx, conn, nil, op)
	})
}

// EachShard runs fn on the primary of every shard. All shards are visited
// even when some fail.
func (router *Router) EachShard(ctx context.Context, fn func(ctx context.Context, shard topology.Shard, conn driver.Conn) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	for _, shard := range router.topo.Shards() {
		shard := shard
		err := router.run(ctx, shard.Primary, func(ctx context.Context, conn driver.Conn) error {
			return fn(ctx, shard, conn)
		})
		if err != nil {
			router.log.Error("shard operation failed", zap.Int("shard", int(shard.ID)), zap.Error(err))
			group.Add(Error.Wrap(fmt.Errorf("shard %d: %w", shard.ID, err)))
		}
	}
	return group.Err()
}

type allUsable struct{}

func (allUsable) Usable(topology.EndpointRef) bool { return true }
