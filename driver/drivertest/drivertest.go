// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package drivertest implements a driver for tests that can simulate
// unreachable endpoints and broken connections.
package drivertest

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/zeebo/errs"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// ErrNotSupported is returned by statements on fake connections.
var ErrNotSupported = errs.Class("drivertest")

// Driver is a driver.Driver for tests.
//
// When Inner is set, connections are opened through it and only the failure
// injection is added on top; otherwise fake connections are returned which
// accept transactions but no statements.
type Driver struct {
	Inner driver.Driver

	mu     sync.Mutex
	down   map[topology.EndpointRef]bool
	opened map[topology.EndpointRef]int
	conns  []*Conn

	closed atomic.Int64
}

// New returns a driver with fake connections.
func New() *Driver {
	return Wrap(nil)
}

// Wrap returns a driver that opens connections with inner.
func Wrap(inner driver.Driver) *Driver {
	return &Driver{
		Inner:  inner,
		down:   make(map[topology.EndpointRef]bool),
		opened: make(map[topology.EndpointRef]int),
	}
}

// SetDown makes an endpoint refuse new connections and fail pings on existing ones.
func (d *Driver) SetDown(endpoint topology.EndpointRef, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[endpoint] = down
}

func (d *Driver) isDown(endpoint topology.EndpointRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.down[endpoint]
}

// Opened returns how many connections were opened to endpoint.
func (d *Driver) Opened(endpoint topology.EndpointRef) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[endpoint]
}

// Closed returns how many connections were closed.
func (d *Driver) Closed() int {
	return int(d.closed.Load())
}

// Conns returns every connection opened so far.
func (d *Driver) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Open implements driver.Driver.
func (d *Driver) Open(ctx context.Context, endpoint topology.EndpointRef) (driver.Conn, error) {
	if d.isDown(endpoint) {
		return nil, driver.ErrEndpointUnreachable.New("%s is down", endpoint)
	}

	conn := &Conn{Endpoint: endpoint, driver: d}
	if d.Inner != nil {
		inner, err := d.Inner.Open(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		conn.inner = inner
	}

	d.mu.Lock()
	d.opened[endpoint]++
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	return conn, nil
}

// Conn is a connection opened by Driver.
type Conn struct {
	Endpoint topology.EndpointRef

	driver *Driver
	inner  driver.Conn
	dead   atomic.Bool
	closed atomic.Bool
}

// Kill makes every following ping on this connection fail.
func (conn *Conn) Kill() { conn.dead.Store(true) }

// IsClosed reports whether Close was called.
func (conn *Conn) IsClosed() bool { return conn.closed.Load() }

func (conn *Conn) check() error {
	if conn.closed.Load() {
		return sql.ErrConnDone
	}
	if conn.dead.Load() || conn.driver.isDown(conn.Endpoint) {
		return driver.ErrEndpointUnreachable.New("%s: connection lost", conn.Endpoint)
	}
	return nil
}

// ExecContext implements driver.Conn.
func (conn *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := conn.check(); err != nil {
		return nil, err
	}
	if conn.inner == nil {
		return nil, ErrNotSupported.New("exec")
	}
	return conn.inner.ExecContext(ctx, query, args...)
}

// QueryContext implements driver.Conn.
func (conn *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := conn.check(); err != nil {
		return nil, err
	}
	if conn.inner == nil {
		return nil, ErrNotSupported.New("query")
	}
	return conn.inner.QueryContext(ctx, query, args...)
}

// QueryRowContext implements driver.Conn. Fake connections return nil.
func (conn *Conn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if conn.inner == nil {
		return nil
	}
	return conn.inner.QueryRowContext(ctx, query, args...)
}

// BeginTx implements driver.Conn.
func (conn *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (driver.Tx, error) {
	if err := conn.check(); err != nil {
		return nil, err
	}
	if conn.inner == nil {
		return &fakeTx{}, nil
	}
	return conn.inner.BeginTx(ctx, opts)
}

// PingContext implements driver.Conn.
func (conn *Conn) PingContext(ctx context.Context) error {
	if err := conn.check(); err != nil {
		return err
	}
	if conn.inner == nil {
		return nil
	}
	return conn.inner.PingContext(ctx)
}

// Close implements driver.Conn.
func (conn *Conn) Close() error {
	if !conn.closed.CompareAndSwap(false, true) {
		return nil
	}
	conn.driver.closed.Add(1)
	if conn.inner == nil {
		return nil
	}
	return conn.inner.Close()
}

type fakeTx struct{}

func (*fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, ErrNotSupported.New("exec")
}

func (*fakeTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, ErrNotSupported.New("query")
}

func (*fakeTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (*fakeTx) Commit() error   { return nil }
func (*fakeTx) Rollback() error { return nil }
