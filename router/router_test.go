// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/driver/drivertest"
	"storj.io/regionshard/pool"
	"storj.io/regionshard/private/testcontext"
	"storj.io/regionshard/router"
	"storj.io/regionshard/topology"
)

func testTopology(t *testing.T) *topology.Topology {
	endpoint := func(host string) topology.EndpointConfig {
		return topology.EndpointConfig{Host: host, Port: 5432, Database: "elearning"}
	}
	topo, err := topology.New(topology.Config{
		Regions: topology.DefaultRegions(),
		Shards: []topology.ShardConfig{
			{ID: 1, Primary: endpoint("na-primary"), Replicas: []topology.EndpointConfig{endpoint("na-replica-1"), endpoint("na-replica-2")}},
			{ID: 2, Primary: endpoint("eu-primary"), Replicas: []topology.EndpointConfig{endpoint("eu-replica")}},
			{ID: 3, Primary: endpoint("asia-primary")},
		},
	})
	require.NoError(t, err)
	return topo
}

type unusable map[topology.EndpointRef]bool

func (u unusable) Usable(endpoint topology.EndpointRef) bool { return !u[endpoint] }

type env struct {
	topo   *topology.Topology
	driver *drivertest.Driver
	pools  *pool.Set
	health unusable
	router *router.Router
}

func newEnv(t *testing.T, poolConfig pool.Config, config router.Config) *env {
	log := zaptest.NewLogger(t)
	e := &env{
		topo:   testTopology(t),
		driver: drivertest.New(),
		health: unusable{},
	}
	if poolConfig.MaxConns == 0 {
		poolConfig = pool.Config{MaxConns: 2, AcquireTimeout: time.Second}
	}
	e.pools = pool.NewSet(log, e.topo, e.driver, poolConfig)
	t.Cleanup(func() { require.NoError(t, e.pools.Close()) })

	var err error
	e.router, err = router.New(log, e.topo, e.pools, e.health, nil, config)
	require.NoError(t, err)
	return e
}

func (e *env) shard(t *testing.T, key topology.PartitionKey) topology.Shard {
	shard, err := e.topo.Resolve(key)
	require.NoError(t, err)
	return shard
}

func endpointOf(conn driver.Conn) topology.EndpointRef {
	return conn.(*drivertest.Conn).Endpoint
}

var fastRetry = router.RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func TestRoute_WritesGoToPrimary(t *testing.T) {
	e := newEnv(t, pool.Config{}, router.Config{})

	for _, key := range e.topo.Regions() {
		shard := e.shard(t, key)
		selection, err := e.router.Route(key, router.Write)
		require.NoError(t, err)
		require.Equal(t, shard.ID, selection.ShardID)
		require.Equal(t, shard.Primary, selection.Endpoint)
		require.False(t, selection.DegradedRead)
	}

	// health does not matter for writes
	for _, endpoint := range e.topo.Endpoints() {
		e.health[endpoint] = true
	}
	selection, err := e.router.Route("europe", router.Write)
	require.NoError(t, err)
	require.Equal(t, topology.Primary, selection.Endpoint.Role)
	require.False(t, selection.DegradedRead)
}

func TestRoute_ReadsPreferReplicas(t *testing.T) {
	e := newEnv(t, pool.Config{}, router.Config{})
	shard := e.shard(t, "north_america")

	counts := map[topology.EndpointRef]int{}
	for i := 0; i < 100; i++ {
		selection, err := e.router.Route("north_america", router.Read)
		require.NoError(t, err)
		require.False(t, selection.DegradedRead)
		require.Equal(t, topology.Replica, selection.Endpoint.Role)
		counts[selection.Endpoint]++
	}
	require.Equal(t, 50, counts[shard.Replicas[0]])
	require.Equal(t, 50, counts[shard.Replicas[1]])

	// an unusable replica is skipped
	e.health[shard.Replicas[0]] = true
	for i := 0; i < 10; i++ {
		selection, err := e.router.Route("south_america", router.Read)
		require.NoError(t, err)
		require.Equal(t, shard.Replicas[1], selection.Endpoint)
	}
}

func TestRoute_Ordered(t *testing.T) {
	e := newEnv(t, pool.Config{}, router.Config{Policy: router.Ordered})
	shard := e.shard(t, "north_america")

	for i := 0; i < 5; i++ {
		selection, err := e.router.Route("north_america", router.Read)
		require.NoError(t, err)
		require.Equal(t, shard.Replicas[0], selection.Endpoint)
	}

	e.health[shard.Replicas[0]] = true
	selection, err := e.router.Route("north_america", router.Read)
	require.NoError(t, err)
	require.Equal(t, shard.Replicas[1], selection.Endpoint)

	_, err = router.New(zaptest.NewLogger(t), e.topo, e.pools, nil, nil, router.Config{Policy: "random"})
	require.Error(t, err)
}

func TestRoute_Degraded(t *testing.T) {
	e := newEnv(t, pool.Config{}, router.Config{})

	// no replicas configured
	selection, err := e.router.Route("asia", router.Read)
	require.NoError(t, err)
	require.True(t, selection.DegradedRead)
	require.Equal(t, e.shard(t, "asia").Primary, selection.Endpoint)

	// no usable replicas
	shard := e.shard(t, "europe")
	e.health[shard.Replicas[0]] = true
	selection, err = e.router.Route("africa", router.Read)
	require.NoError(t, err)
	require.True(t, selection.DegradedRead)
	require.Equal(t, shard.Primary, selection.Endpoint)

	// recovered
	delete(e.health, shard.Replicas[0])
	selection, err = e.router.Route("africa", router.Read)
	require.NoError(t, err)
	require.False(t, selection.DegradedRead)
	require.Equal(t, shard.Replicas[0], selection.Endpoint)
}

func TestRoute_UnknownPartition(t *testing.T) {
	e := newEnv(t, pool.Config{}, router.Config{})

	for _, class := range []router.Class{router.Read, router.Write} {
		_, err := e.router.Route("atlantis", class)
		require.Error(t, err)
		require.True(t, topology.ErrUnknownPartition.Has(err))
	}

	calls := 0
	outcome, err := e.router.Execute(context.Background(), "atlantis", router.Read, func(ctx context.Context, conn driver.Conn) error {
		calls++
		return nil
	})
	require.True(t, topology.ErrUnknownPartition.Has(err))
	require.Zero(t, outcome.Attempts)
	require.Zero(t, calls)
}

func TestExecute(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t, pool.Config{}, router.Config{})

	var got topology.EndpointRef
	outcome, err := e.router.Execute(ctx, "europe", router.Write, func(ctx context.Context, conn driver.Conn) error {
		got = endpointOf(conn)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Attempts)
	require.Equal(t, e.shard(t, "europe").Primary, got)
	require.Equal(t, got, outcome.Endpoint)

	// the connection went back to the pool
	p, ok := e.pools.Get(got)
	require.True(t, ok)
	require.Equal(t, pool.Stats{Open: 1, Idle: 1, Max: 2}, p.Stats())
}

func TestExecute_OperationErrorNotRetried(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t, pool.Config{}, router.Config{Retry: fastRetry})

	boom := errors.New("boom")
	for _, class := range []router.Class{router.Read, router.Write} {
		calls := 0
		outcome, err := e.router.Execute(ctx, "europe", class, func(ctx context.Context, conn driver.Conn) error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, outcome.Attempts)
		require.Equal(t, 1, calls)
	}
}

func TestExecute_ReadFailsOver(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t, pool.Config{}, router.Config{Policy: router.Ordered, Retry: fastRetry})
	shard := e.shard(t, "north_america")

	read := func() (router.Outcome, []topology.EndpointRef, error) {
		var served []topology.EndpointRef
		outcome, err := e.router.Execute(ctx, "north_america", router.Read, func(ctx context.Context, conn driver.Conn) error {
			served = append(served, endpointOf(conn))
			return nil
		})
		return outcome, served, err
	}

	// the health view has not noticed yet
	e.driver.SetDown(shard.Replicas[0], true)
	outcome, served, err := read()
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Attempts)
	require.Equal(t, shard.Replicas[1], outcome.Endpoint)
	require.Equal(t, []topology.EndpointRef{shard.Replicas[1]}, served)
	require.False(t, outcome.DegradedRead)

	e.driver.SetDown(shard.Replicas[1], true)
	outcome, served, err = read()
	require.NoError(t, err)
	require.Equal(t, 3, outcome.Attempts)
	require.True(t, outcome.DegradedRead)
	require.Equal(t, []topology.EndpointRef{shard.Primary}, served)

	e.driver.SetDown(shard.Primary, true)
	_, served, err = read()
	require.Error(t, err)
	require.True(t, driver.ErrEndpointUnreachable.Has(err))
	require.Empty(t, served)
}

func TestExecute_WriteUnreachableNotRetried(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t, pool.Config{}, router.Config{Retry: fastRetry})
	shard := e.shard(t, "europe")
	e.driver.SetDown(shard.Primary, true)

	calls := 0
	outcome, err := e.router.Execute(ctx, "europe", router.Write, func(ctx context.Context, conn driver.Conn) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.True(t, driver.ErrEndpointUnreachable.Has(err))
	require.Equal(t, 1, outcome.Attempts)
	require.Zero(t, calls)
	require.Equal(t, 0, e.driver.Opened(shard.Primary))
}

func TestExecute_ExhaustedRetried(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t,
		pool.Config{MaxConns: 1, AcquireTimeout: 20 * time.Millisecond},
		router.Config{Retry: router.RetryConfig{MaxAttempts: 3, Backoff: 50 * time.Millisecond, MaxBackoff: time.Second}})
	shard := e.shard(t, "asia")

	p, ok := e.pools.Get(shard.Primary)
	require.True(t, ok)
	held, err := p.Acquire(ctx)
	require.NoError(t, err)

	var once sync.Once
	release := func() { once.Do(held.Release) }
	defer release()

	ctx.Go(func() error {
		time.Sleep(40 * time.Millisecond)
		release()
		return nil
	})

	outcome, err := e.router.Execute(ctx, "asia", router.Write, func(ctx context.Context, conn driver.Conn) error {
		return nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, outcome.Attempts, 2)
}

func TestExecute_ExhaustedGivesUp(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t,
		pool.Config{MaxConns: 1, AcquireTimeout: 10 * time.Millisecond},
		router.Config{Retry: router.RetryConfig{MaxAttempts: 2, Backoff: time.Millisecond}})
	shard := e.shard(t, "asia")

	p, ok := e.pools.Get(shard.Primary)
	require.True(t, ok)
	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer held.Release()

	outcome, err := e.router.Execute(ctx, "oceania", router.Read, func(ctx context.Context, conn driver.Conn) error {
		return nil
	})
	require.Error(t, err)
	require.True(t, pool.ErrExhausted.Has(err))
	require.Equal(t, 2, outcome.Attempts)
	require.True(t, outcome.DegradedRead)
}

func TestExecute_Canceled(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t, pool.Config{}, router.Config{Retry: router.RetryConfig{MaxAttempts: 5, Backoff: time.Hour}})
	shard := e.shard(t, "north_america")
	e.driver.SetDown(shard.Replicas[0], true)
	e.driver.SetDown(shard.Replicas[1], true)

	canceled, cancel := context.WithCancel(ctx)
	ctx.Go(func() error {
		time.Sleep(20 * time.Millisecond)
		cancel()
		return nil
	})

	_, err := e.router.Execute(canceled, "north_america", router.Read, func(ctx context.Context, conn driver.Conn) error {
		return nil
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEachShard(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	e := newEnv(t, pool.Config{}, router.Config{})

	visited := map[topology.ShardID]topology.EndpointRef{}
	err := e.router.EachShard(ctx, func(ctx context.Context, shard topology.Shard, conn driver.Conn) error {
		visited[shard.ID] = endpointOf(conn)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, visited, 3)
	for id, endpoint := range visited {
		shard, ok := e.topo.Shard(id)
		require.True(t, ok)
		require.Equal(t, shard.Primary, endpoint)
	}

	e.driver.SetDown(e.shard(t, "europe").Primary, true)
	visited = map[topology.ShardID]topology.EndpointRef{}
	err = e.router.EachShard(ctx, func(ctx context.Context, shard topology.Shard, conn driver.Conn) error {
		visited[shard.ID] = endpointOf(conn)
		return nil
	})
	require.Error(t, err)
	require.True(t, router.Error.Has(err))
	require.True(t, driver.ErrEndpointUnreachable.Has(err))
	require.Len(t, visited, 2)
	require.NotContains(t, visited, topology.ShardID(2))
}

func TestParseClass(t *testing.T) {
	class, err := router.ParseClass("read")
	require.NoError(t, err)
	require.Equal(t, router.Read, class)

	class, err = router.ParseClass("write")
	require.NoError(t, err)
	require.Equal(t, router.Write, class)

	_, err = router.ParseClass("delete")
	require.Error(t, err)
}
