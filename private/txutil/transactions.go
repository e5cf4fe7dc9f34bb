// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package txutil provides safe transaction-encapsulation functions which have retry
// semantics as necessary.
package txutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/regionshard/driver"
)

var mon = monkit.Package()

const (
	maxRetries    = 10
	maxRetryTotal = time.Minute
)

// WithTx starts a transaction on the given connection. The transaction is started
// in the appropriate manner, and will be restarted if appropriate. While in the
// transaction, fn is called with a handle to the transaction in order to make use
// of it. If fn returns an error, the transaction is rolled back. If fn returns nil,
// the transaction is committed.
//
// If fn has any side effects outside of changes to the database, they must be
// idempotent! fn may be called more than one time.
func WithTx(ctx context.Context, conn driver.Conn, txOpts *sql.TxOptions, fn func(context.Context, driver.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	start := time.Now()

	for i := 0; ; i++ {
		err, rollbackErr := withTxOnce(ctx, conn, txOpts, fn)
		if time.Since(start) < maxRetryTotal && i < maxRetries && ctx.Err() == nil {
			if ShouldRetry(err) {
				mon.Event(fmt.Sprintf("transaction_retry_%d", i+1))
				continue
			}
		}
		mon.IntVal("transaction_retries").Observe(int64(i))
		if rollbackErr == nil {
			return err
		}
		return errs.Combine(err, rollbackErr)
	}
}

// withTxOnce creates a transaction, ensures that it is eventually released (commit or rollback)
// and passes it to the provided callback. It does not handle retries or anything, delegating
// that to callers.
func withTxOnce(ctx context.Context, conn driver.Conn, txOpts *sql.TxOptions, fn func(context.Context, driver.Tx) error) (err, rollbackErr error) {
	defer mon.Task()(&ctx)(&err)

	tx, err := conn.BeginTx(ctx, txOpts)
	if err != nil {
		return errs.Wrap(err), nil
	}

	completed := false
	defer func() {
		if completed && err == nil {
			err = tx.Commit()
			return
		}
		rollbackErr = tx.Rollback()
		if errors.Is(rollbackErr, sql.ErrTxDone) {
			rollbackErr = nil
		}
	}()

	err = fn(ctx, tx)
	completed = true
	return err, nil
}

// ShouldRetry reports whether err is a transient serialization failure after
// which the whole transaction can be run again.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	switch errCode(err) {
	case "40001", "40P01", "CR000":
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// errCode returns the error code associated with any postgres error in the chain of
// errors walked by unwrapping.
func errCode(err error) (code string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
