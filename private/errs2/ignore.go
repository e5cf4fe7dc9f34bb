// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package errs2 collects error helpers shared by the long running parts.
package errs2

import (
	"context"
	"errors"
	"net/http"
)

// IsCanceled returns true when err is the result of a canceled context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IgnoreCanceled returns nil when err is the result of a canceled context or
// a closed http server and err otherwise.
func IgnoreCanceled(err error) error {
	if IsCanceled(err) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
