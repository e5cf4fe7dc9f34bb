// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pool implements a bounded pool of connections to a single endpoint.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

var (
	// Error is the class for pool errors.
	Error = errs.Class("pool")

	// ErrExhausted is returned when no connection became available within the
	// acquire timeout. It is transient: callers should retry with backoff.
	ErrExhausted = errs.Class("pool exhausted")

	// ErrClosed is returned when acquiring from a closed pool.
	ErrClosed = Error.New("closed")

	mon = monkit.Package()
)

// Config configures the size and timeouts of an endpoint pool.
type Config struct {
	MinConns       int           `help:"connections kept open per endpoint" default:"1"`
	MaxConns       int           `help:"maximum connections per endpoint" default:"10"`
	AcquireTimeout time.Duration `help:"how long acquire waits for a free connection" default:"30s"`
	IdleTimeout    time.Duration `help:"idle connections above the minimum are closed after this long" default:"5m"`
	PruneInterval  time.Duration `help:"how often idle connections are pruned" default:"1m"`
}

func (config Config) normalize() Config {
	if config.MaxConns <= 0 {
		config.MaxConns = 1
	}
	if config.MinConns < 0 {
		config.MinConns = 0
	}
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	return config
}

// Stats is a point in time view of the pool accounting.
type Stats struct {
	Open  int
	Idle  int
	InUse int
	Max   int
}

type idleConn struct {
	conn  driver.Conn
	since time.Time
}

// Pool is a bounded set of reusable connections to one endpoint.
//
// Every leased connection holds a token from a channel of capacity MaxConns,
// which bounds the number of open connections. The mutex only guards the free
// set and counters and is never held across I/O.
type Pool struct {
	log      *zap.Logger
	endpoint topology.EndpointRef
	driver   driver.Driver
	config   Config
	now      func() time.Time

	tokens chan struct{}

	mu     sync.Mutex
	idle   []idleConn // oldest first
	open   int
	closed bool
}

// New creates a pool for endpoint. No connection is opened until Warm or Acquire.
func New(log *zap.Logger, endpoint topology.EndpointRef, drv driver.Driver, config Config) *Pool {
	config = config.normalize()
	return &Pool{
		log:      log,
		endpoint: endpoint,
		driver:   drv,
		config:   config,
		now:      time.Now,
		tokens:   make(chan struct{}, config.MaxConns),
	}
}

// Endpoint returns the endpoint this pool connects to.
func (p *Pool) Endpoint() topology.EndpointRef { return p.endpoint }

// Warm opens connections until MinConns are open. Every dial holds a
// capacity token, so Warm stops early when the pool is fully leased.
func (p *Pool) Warm(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		select {
		case p.tokens <- struct{}{}:
		default:
			return nil
		}

		done, err := p.warmOne(ctx)
		<-p.tokens
		if done || err != nil {
			return err
		}
	}
}

// warmOne dials a single connection into the free set unless MinConns are
// already open. It must be called while holding a token.
func (p *Pool) warmOne(ctx context.Context) (done bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true, ErrClosed
	}
	if p.open >= p.config.MinConns {
		p.mu.Unlock()
		return true, nil
	}
	p.open++
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		return true, err
	}
	p.put(conn)
	return false, nil
}

// Acquire leases a connection. It waits at most AcquireTimeout for one to
// become available and fails with ErrExhausted otherwise.
//
// The returned connection must be released with Release or Discard on every
// exit path; prefer With.
func (p *Pool) Acquire(ctx context.Context) (_ *Conn, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	conn, err := p.take(ctx)
	if err != nil {
		<-p.tokens
		return nil, err
	}
	return &Conn{Conn: conn, pool: p}, nil
}

// With runs fn with a leased connection and releases it when fn returns or
// panics. Connections that failed with a connection error are discarded
// instead of being returned to the free set.
func (p *Pool) With(ctx context.Context, fn func(ctx context.Context, conn driver.Conn) error) (err error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			conn.Discard()
			panic(r)
		}
		if driver.IsConnectionError(err) {
			conn.Discard()
			return
		}
		conn.Release()
	}()

	return fn(ctx, conn.Conn)
}

// wait takes a capacity token.
func (p *Pool) wait(ctx context.Context) error {
	select {
	case p.tokens <- struct{}{}:
		return nil
	default:
	}

	start := time.Now()
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case p.tokens <- struct{}{}:
		mon.DurationVal("acquire_wait").Observe(time.Since(start))
		return nil
	case <-timer.C:
		mon.Counter("pool_exhausted").Inc(1)
		return ErrExhausted.New("%s: no connection available within %s", p.endpoint, p.config.AcquireTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take returns a live connection from the free set or dials a new one. It must
// be called while holding a token.
func (p *Pool) take(ctx context.Context) (driver.Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		stale := p.expireLocked(p.now())

		n := len(p.idle)
		if n == 0 {
			p.open++
			p.mu.Unlock()
			p.closeAll(stale)
			return p.dial(ctx)
		}
		candidate := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.closeAll(stale)

		if err := candidate.conn.PingContext(ctx); err != nil {
			p.log.Info("discarding dead connection", zap.Stringer("endpoint", p.endpoint), zap.Error(err))
			mon.Counter("dead_connection").Inc(1)
			p.drop(candidate.conn)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return candidate.conn, nil
	}
}

// dial opens a new connection. The caller must have counted it in open.
func (p *Pool) dial(ctx context.Context) (driver.Conn, error) {
	conn, err := p.driver.Open(ctx, p.endpoint)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()

		if !driver.ErrEndpointUnreachable.Has(err) {
			err = driver.ErrEndpointUnreachable.Wrap(err)
		}
		return nil, err
	}
	return conn, nil
}

// put returns conn to the free set.
func (p *Pool) put(conn driver.Conn) {
	p.mu.Lock()
	if p.closed {
		p.open--
		p.mu.Unlock()
		p.closeConn(conn)
		return
	}
	p.idle = append(p.idle, idleConn{conn: conn, since: p.now()})
	p.mu.Unlock()
}

// drop closes conn and removes it from the accounting.
func (p *Pool) drop(conn driver.Conn) {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	p.closeConn(conn)
}

// expireLocked removes connections that were idle longer than IdleTimeout,
// keeping at least MinConns open.
func (p *Pool) expireLocked(now time.Time) (stale []driver.Conn) {
	if p.config.IdleTimeout <= 0 {
		return nil
	}
	for len(p.idle) > 0 && p.open > p.config.MinConns && now.Sub(p.idle[0].since) >= p.config.IdleTimeout {
		stale = append(stale, p.idle[0].conn)
		p.idle = p.idle[1:]
		p.open--
	}
	return stale
}

// Prune closes idle connections above the minimum that exceeded IdleTimeout.
func (p *Pool) Prune() int {
	p.mu.Lock()
	stale := p.expireLocked(p.now())
	p.mu.Unlock()

	p.closeAll(stale)
	return len(stale)
}

func (p *Pool) closeAll(conns []driver.Conn) {
	for _, conn := range conns {
		p.closeConn(conn)
	}
}

func (p *Pool) closeConn(conn driver.Conn) {
	if err := conn.Close(); err != nil {
		p.log.Debug("closing connection failed", zap.Stringer("endpoint", p.endpoint), zap.Error(err))
	}
}

// Stats returns the current accounting.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Open:  p.open,
		Idle:  len(p.idle),
		InUse: p.open - len(p.idle),
		Max:   p.config.MaxConns,
	}
}

// Close closes all idle connections. Leased connections are closed when
// they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	var group errs.Group
	for _, ic := range idle {
		group.Add(ic.conn.Close())
	}
	return Error.Wrap(group.Err())
}

// Conn is a connection leased from a Pool.
type Conn struct {
	driver.Conn

	pool     *Pool
	released atomic.Bool
}

// Release returns the connection to its pool. Releasing twice is a defect in
// the caller; the second call is logged and otherwise ignored.
func (conn *Conn) Release() {
	if !conn.finish() {
		return
	}
	conn.pool.put(conn.Conn)
	<-conn.pool.tokens
}

// Discard closes the connection instead of returning it to the free set.
func (conn *Conn) Discard() {
	if !conn.finish() {
		return
	}
	conn.pool.drop(conn.Conn)
	<-conn.pool.tokens
}

func (conn *Conn) finish() bool {
	if conn.released.CompareAndSwap(false, true) {
		return true
	}
	mon.Counter("double_release").Inc(1)
	conn.pool.log.Error("connection released twice",
		zap.Stringer("endpoint", conn.pool.endpoint),
		zap.Stack("stack"))
	return false
}
