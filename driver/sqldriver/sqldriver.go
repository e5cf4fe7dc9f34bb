// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqldriver implements driver.Driver on top of database/sql.
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	_ "github.com/lib/pq"              // registers the postgres driver
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/private/dbutil"
	"storj.io/regionshard/topology"
)

var (
	// Error is the error class for this package.
	Error = errs.Class("sqldriver")

	mon = monkit.Package()
)

// Config configures how endpoints are dialed.
type Config struct {
	Driver         string        `help:"database driver: postgres, pgx or sqlite3" default:"postgres"`
	SSLMode        string        `help:"postgres sslmode" default:"disable"`
	ConnectTimeout time.Duration `help:"timeout for establishing a connection" default:"5s"`
	BusyTimeout    time.Duration `help:"sqlite3 busy timeout" default:"5s"`
}

// CredentialsFunc resolves a credentials handle into a user and password.
type CredentialsFunc func(handle string) (user, password string, err error)

// EnvCredentials resolves handle from the <HANDLE>_USER and <HANDLE>_PASSWORD
// environment variables.
func EnvCredentials(handle string) (user, password string, err error) {
	if handle == "" {
		return "", "", nil
	}
	prefix := strings.ToUpper(handle)
	user, ok := os.LookupEnv(prefix + "_USER")
	if !ok {
		return "", "", Error.New("credentials %q: %s_USER not set", handle, prefix)
	}
	return user, os.Getenv(prefix + "_PASSWORD"), nil
}

// Driver opens connections through database/sql.
//
// Each endpoint gets its own *sql.DB with idle pooling disabled, so a closed
// connection is really closed and the endpoint pool is the only pooling layer.
type Driver struct {
	log         *zap.Logger
	config      Config
	impl        dbutil.Implementation
	credentials CredentialsFunc

	mu  sync.Mutex
	dbs map[topology.EndpointRef]*sql.DB
}

// New creates a database/sql backed driver.
func New(log *zap.Logger, config Config, credentials CredentialsFunc) (*Driver, error) {
	impl := dbutil.ImplementationForScheme(config.Driver)
	if impl == dbutil.Unknown {
		return nil, Error.New("unsupported driver %q", config.Driver)
	}
	if credentials == nil {
		credentials = EnvCredentials
	}
	return &Driver{
		log:         log,
		config:      config,
		impl:        impl,
		credentials: credentials,
		dbs:         make(map[topology.EndpointRef]*sql.DB),
	}, nil
}

// Implementation returns the database implementation this driver talks to.
func (d *Driver) Implementation() dbutil.Implementation { return d.impl }

// Open opens a new physical connection to the endpoint.
func (d *Driver) Open(ctx context.Context, endpoint topology.EndpointRef) (_ driver.Conn, err error) {
	defer mon.Task()(&ctx)(&err)

	db, err := d.database(endpoint)
	if err != nil {
		return nil, err
	}

	if d.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	raw, err := db.Conn(ctx)
	if err != nil {
		return nil, driver.ErrEndpointUnreachable.New("%s: %v", endpoint, err)
	}
	return &conn{Conn: raw, endpoint: endpoint}, nil
}

// database returns the *sql.DB for the endpoint. sql.Open does no I/O, so the
// lock is never held across the network.
func (d *Driver) database(endpoint topology.EndpointRef) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if db, ok := d.dbs[endpoint]; ok {
		return db, nil
	}

	source, err := d.DataSource(endpoint)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.impl.DriverName(), source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	db.SetMaxIdleConns(0)

	d.dbs[endpoint] = db
	d.log.Debug("registered endpoint", zap.Stringer("endpoint", endpoint), zap.Stringer("driver", d.impl))
	return db, nil
}

// DataSource builds the connection string for an endpoint.
func (d *Driver) DataSource(endpoint topology.EndpointRef) (string, error) {
	switch d.impl {
	case dbutil.Postgres, dbutil.Pgx:
		user, password, err := d.credentials(endpoint.Credentials)
		if err != nil {
			return "", err
		}
		source := url.URL{
			Scheme: "postgres",
			Host:   endpoint.Address(),
			Path:   "/" + endpoint.Database,
		}
		if user != "" {
			source.User = url.UserPassword(user, password)
		}
		query := url.Values{}
		if d.config.SSLMode != "" {
			query.Set("sslmode", d.config.SSLMode)
		}
		if d.config.ConnectTimeout > 0 {
			query.Set("connect_timeout", strconv.Itoa(int(d.config.ConnectTimeout.Seconds()+0.5)))
		}
		source.RawQuery = query.Encode()
		return source.String(), nil

	case dbutil.SQLite3:
		if endpoint.Database == "" {
			return "", Error.New("%s: sqlite3 endpoint needs a database path", endpoint)
		}
		busy := d.config.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
			endpoint.Database, busy.Milliseconds()), nil
	}
	return "", Error.New("unsupported implementation %s", d.impl)
}

// Close closes every endpoint database.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var group errs.Group
	for endpoint, db := range d.dbs {
		group.Add(db.Close())
		delete(d.dbs, endpoint)
	}
	return group.Err()
}

// conn adapts *sql.Conn to driver.Conn.
type conn struct {
	*sql.Conn
	endpoint topology.EndpointRef
}

func (c *conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (driver.Tx, error) {
	tx, err := c.Conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *conn) PingContext(ctx context.Context) error {
	if err := c.Conn.PingContext(ctx); err != nil {
		return driver.ErrEndpointUnreachable.New("%s: %v", c.endpoint, err)
	}
	return nil
}
