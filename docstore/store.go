// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package docstore stores course content documents and user preferences in
// Redis, next to the relational shards.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/regionshard/topology"
)

var (
	// Error is a docstore error.
	Error = errs.Class("docstore")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errs.Class("document not found")

	mon = monkit.Package()
)

const defaultPort = "6379"

// Config configures the document store.
type Config struct {
	Address string `help:"redis address of the document store, redis://host:port?db=0&password=" default:"redis://localhost:6379?db=0"`
}

// Store is a Redis backed document store.
type Store struct {
	log      *zap.Logger
	db       *redis.Client
	endpoint topology.EndpointRef
}

// Open returns a store for a redis:// address. It does not verify the
// connection; use Ping for that.
func Open(log *zap.Logger, address string) (*Store, error) {
	redisurl, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if redisurl.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := redisurl.Query()
	db := 0
	if s := q.Get("db"); s != "" {
		db, err = strconv.Atoi(s)
		if err != nil {
			return nil, Error.New("invalid db %q", s)
		}
	}
	password := q.Get("password")
	if redisurl.User != nil {
		if p, ok := redisurl.User.Password(); ok {
			password = p
		}
	}

	endpoint := topology.EndpointRef{
		Host:     redisurl.Hostname(),
		Database: "db" + strconv.Itoa(db),
		Role:     topology.DocumentStore,
	}
	port := redisurl.Port()
	if port == "" {
		port = defaultPort
	}
	endpoint.Port, err = strconv.Atoi(port)
	if err != nil {
		return nil, Error.New("invalid port %q", port)
	}

	return &Store{
		log: log,
		db: redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(redisurl.Hostname(), port),
			Password: password,
			DB:       db,
		}),
		endpoint: endpoint,
	}, nil
}

// Endpoint returns the endpoint of the store, as reported by health checks.
func (store *Store) Endpoint() topology.EndpointRef { return store.endpoint }

// Ping verifies the store is reachable.
func (store *Store) Ping(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(store.db.Ping(ctx).Err())
}

// Close closes the client.
func (store *Store) Close() error {
	return Error.Wrap(store.db.Close())
}

// Stats counts stored documents.
type Stats struct {
	Contents    int64
	Preferences int64
}

// Stats returns the number of content and preference documents.
func (store *Store) Stats(ctx context.Context) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	stats.Contents, err = store.db.SCard(ctx, contentsKey).Result()
	if err != nil {
		return stats, Error.Wrap(err)
	}
	stats.Preferences, err = store.db.SCard(ctx, preferencesKey).Result()
	return stats, Error.Wrap(err)
}

func now() time.Time { return time.Now().UTC() }

func decode(data string, v interface{}) error {
	return Error.Wrap(json.Unmarshal([]byte(data), v))
}

func isNil(err error) bool { return errors.Is(err, redis.Nil) }
