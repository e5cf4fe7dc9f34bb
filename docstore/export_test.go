// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package docstore

// Addr returns the address the client dials.
func (store *Store) Addr() string { return store.db.Options().Addr }
