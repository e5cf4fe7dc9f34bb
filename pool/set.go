// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package pool

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/private/sync2"
	"storj.io/regionshard/topology"
)

// Set holds one pool per endpoint of a topology. The set of pools is fixed at
// construction, so lookups need no locking.
type Set struct {
	log    *zap.Logger
	config Config
	pools  map[topology.EndpointRef]*Pool
	order  []topology.EndpointRef

	Loop *sync2.Cycle
}

// NewSet creates pools for every endpoint in topo.
func NewSet(log *zap.Logger, topo *topology.Topology, drv driver.Driver, config Config) *Set {
	config = config.normalize()
	set := &Set{
		log:    log,
		config: config,
		pools:  make(map[topology.EndpointRef]*Pool),
		Loop:   sync2.NewCycle(config.PruneInterval),
	}
	for _, endpoint := range topo.Endpoints() {
		if _, exists := set.pools[endpoint]; exists {
			continue
		}
		set.pools[endpoint] = New(log.Named(endpoint.Address()), endpoint, drv, config)
		set.order = append(set.order, endpoint)
	}
	return set
}

// Get returns the pool for endpoint.
func (set *Set) Get(endpoint topology.EndpointRef) (*Pool, bool) {
	p, ok := set.pools[endpoint]
	return p, ok
}

// Warm opens the minimum number of connections on every endpoint. Endpoints
// that cannot be reached are logged and skipped; the health reporter flags them.
func (set *Set) Warm(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errgroup.Group
	for _, endpoint := range set.order {
		p := set.pools[endpoint]
		group.Go(func() error {
			if err := p.Warm(ctx); err != nil {
				set.log.Warn("unable to warm pool", zap.Stringer("endpoint", p.Endpoint()), zap.Error(err))
			}
			return nil
		})
	}
	return group.Wait()
}

// Run prunes idle connections every PruneInterval until ctx is canceled.
func (set *Set) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if set.config.PruneInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	return set.Loop.Run(ctx, func(ctx context.Context) error {
		pruned := 0
		for _, endpoint := range set.order {
			pruned += set.pools[endpoint].Prune()
		}
		if pruned > 0 {
			set.log.Debug("pruned idle connections", zap.Int("count", pruned))
		}
		return nil
	})
}

// Stats returns the accounting of every pool.
func (set *Set) Stats() map[topology.EndpointRef]Stats {
	stats := make(map[topology.EndpointRef]Stats, len(set.pools))
	for endpoint, p := range set.pools {
		stats[endpoint] = p.Stats()
	}
	return stats
}

// Close closes every pool.
func (set *Set) Close() error {
	set.Loop.Stop()

	var group errs.Group
	for _, endpoint := range set.order {
		group.Add(set.pools[endpoint].Close())
	}
	return group.Err()
}
