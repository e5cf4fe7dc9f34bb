// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package dbutil

import (
	"strconv"
	"strings"
)

// Implementation type of valid DBs.
type Implementation int

const (
	// Unknown is an unknown db type.
	Unknown Implementation = iota
	// Postgres is a Postgresdb type accessed through lib/pq.
	Postgres
	// Pgx is a Postgresdb type accessed through jackc/pgx.
	Pgx
	// SQLite3 is a sqlite3 database file.
	SQLite3
)

// ImplementationForScheme returns the Implementation that is used for
// the driver name or url scheme.
func ImplementationForScheme(scheme string) Implementation {
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql", "pq":
		return Postgres
	case "pgx":
		return Pgx
	case "sqlite", "sqlite3":
		return SQLite3
	default:
		return Unknown
	}
}

// DriverName returns the database/sql driver name registered for the implementation.
func (impl Implementation) DriverName() string {
	switch impl {
	case Postgres:
		return "postgres"
	case Pgx:
		return "pgx"
	case SQLite3:
		return "sqlite3"
	default:
		return ""
	}
}

// String returns the default name for a given implementation.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case Pgx:
		return "pgx"
	case SQLite3:
		return "sqlite3"
	default:
		return "<unknown>"
	}
}

// Rebind replaces ? placeholders with the positional form the implementation expects.
// Question marks inside single-quoted literals are left alone.
func (impl Implementation) Rebind(query string) string {
	if impl != Postgres && impl != Pgx {
		return query
	}

	var out strings.Builder
	out.Grow(len(query) + 8)

	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			out.WriteRune(r)
		case r == '?' && !quoted:
			n++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}
