// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/regionshard/private/dbutil"
)

func TestImplementationForScheme(t *testing.T) {
	for scheme, expected := range map[string]dbutil.Implementation{
		"postgres":   dbutil.Postgres,
		"postgresql": dbutil.Postgres,
		"pgx":        dbutil.Pgx,
		"sqlite3":    dbutil.SQLite3,
		"SQLite":     dbutil.SQLite3,
		"bolt":       dbutil.Unknown,
	} {
		require.Equal(t, expected, dbutil.ImplementationForScheme(scheme), scheme)
	}
}

func TestRebind(t *testing.T) {
	query := `UPDATE enrollments SET status = ?, note = 'why?' WHERE enrollment_id = ?`

	require.Equal(t, query, dbutil.SQLite3.Rebind(query))
	require.Equal(t,
		`UPDATE enrollments SET status = $1, note = 'why?' WHERE enrollment_id = $2`,
		dbutil.Postgres.Rebind(query))
	require.Equal(t, dbutil.Postgres.Rebind(query), dbutil.Pgx.Rebind(query))
}
