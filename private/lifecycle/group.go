// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lifecycle runs and closes the long lived parts of a process.
package lifecycle

import (
	"context"
	"runtime"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/regionshard/private/errs2"
)

var mon = monkit.Package()

// SlowClose is how long an item may take to close before the goroutines of
// the process are logged.
var SlowClose = 15 * time.Second

// Group is a collection of items started and stopped together.
type Group struct {
	log   *zap.Logger
	items []Item
}

// Item is a named part of the process. Run and Close are optional.
type Item struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}

// NewGroup creates a new group.
func NewGroup(log *zap.Logger) *Group {
	return &Group{log: log}
}

// Add adds an item to the group.
func (group *Group) Add(item Item) {
	group.items = append(group.items, item)
}

// Run starts every item with a Run function on g.
func (group *Group) Run(ctx context.Context, g *errgroup.Group) {
	for _, item := range group.items {
		item := item
		if item.Run == nil {
			continue
		}
		g.Go(func() error {
			err := errs2.IgnoreCanceled(item.Run(ctx))
			if err != nil {
				group.log.Error("item failed", zap.String("name", item.Name), zap.Error(err))
				return errs.New("%s: %v", item.Name, err)
			}
			group.log.Debug("item stopped", zap.String("name", item.Name))
			return nil
		})
	}
}

// Close closes the items in reverse order of adding them.
func (group *Group) Close() error {
	var errlist errs.Group
	for i := len(group.items) - 1; i >= 0; i-- {
		item := group.items[i]
		if item.Close == nil {
			continue
		}
		errlist.Add(group.close(item))
	}
	return errlist.Err()
}

func (group *Group) close(item Item) (err error) {
	ctx := context.Background()
	defer mon.Task()(&ctx)(&err)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-done:
		case <-time.After(SlowClose):
			buf := make([]byte, 1<<20)
			buf = buf[:runtime.Stack(buf, true)]
			group.log.Warn("slow close",
				zap.String("name", item.Name),
				zap.ByteString("goroutines", condenseStack(buf)))
		}
	}()

	if err := item.Close(); err != nil {
		return errs.New("closing %s: %v", item.Name, err)
	}
	return nil
}
