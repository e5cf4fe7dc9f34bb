// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package driver defines the contract between the router and the storage
// engine behind each endpoint.
package driver

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"errors"

	"github.com/zeebo/errs"

	"storj.io/regionshard/topology"
)

// ErrEndpointUnreachable is returned when an endpoint cannot be reached or a
// connection to it broke during use.
var ErrEndpointUnreachable = errs.Class("endpoint unreachable")

// Queryer is the statement interface shared by connections and transactions.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is an open transaction.
type Tx interface {
	Queryer
	Commit() error
	Rollback() error
}

// Conn is a single physical connection to an endpoint.
type Conn interface {
	Queryer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Driver opens physical connections.
type Driver interface {
	Open(ctx context.Context, endpoint topology.EndpointRef) (Conn, error)
}

// IsConnectionError reports whether err means the connection itself is
// unusable, as opposed to a failed statement.
func IsConnectionError(err error) bool {
	return ErrEndpointUnreachable.Has(err) ||
		errors.Is(err, sqldriver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone)
}
