// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package learningdb implements the e-learning records on top of the
// sharded router. Every operation is addressed by the region of the user it
// belongs to.
package learningdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/private/dbutil"
	"storj.io/regionshard/router"
	"storj.io/regionshard/topology"
)

var (
	mon = monkit.Package()

	// Error is the default learningdb errs class.
	Error = errs.Class("learningdb")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errs.Class("record not found")

	// ErrConflict is returned when a record already exists or a state change
	// is not allowed.
	ErrConflict = errs.Class("conflict")
)

// DB accesses the e-learning records through the router.
type DB struct {
	log    *zap.Logger
	router *router.Router
	impl   dbutil.Implementation
	now    func() time.Time
}

// New creates a DB issuing statements for impl.
func New(log *zap.Logger, r *router.Router, impl dbutil.Implementation) *DB {
	return &DB{
		log:    log,
		router: r,
		impl:   impl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the schema on every shard primary.
func (db *DB) Migrate(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.router.EachShard(ctx, func(ctx context.Context, shard topology.Shard, conn driver.Conn) error {
		if err := CreateSchema(ctx, conn); err != nil {
			return err
		}
		db.log.Info("schema ready", zap.Int("shard", int(shard.ID)), zap.Stringer("endpoint", shard.Primary))
		return nil
	})
}

func (db *DB) rebind(query string) string { return db.impl.Rebind(query) }

// read runs fn on the endpoint serving reads for region.
func (db *DB) read(ctx context.Context, region topology.PartitionKey, fn func(ctx context.Context, conn driver.Conn) error) error {
	_, err := db.router.Execute(ctx, region, router.Read, fn)
	return err
}

// write runs fn on the primary of region.
func (db *DB) write(ctx context.Context, region topology.PartitionKey, fn func(ctx context.Context, conn driver.Conn) error) error {
	_, err := db.router.Execute(ctx, region, router.Write, fn)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// notFound converts sql.ErrNoRows into ErrNotFound.
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound.New(format, args...)
	}
	return Error.Wrap(err)
}

func expectAffected(result sql.Result, format string, args ...interface{}) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return ErrNotFound.New(format, args...)
	}
	return nil
}
