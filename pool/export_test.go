// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package pool

import "time"

// SetNow replaces the clock used for idle accounting.
func (p *Pool) SetNow(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}
