// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package topology maps partition keys (region codes) to shards.
//
// A Topology is loaded once from configuration and never changes afterwards,
// so it is safe to share between goroutines without locking.
package topology

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Error is the error class for topology configuration problems.
	Error = errs.Class("topology")

	// ErrUnknownPartition is returned when a partition key has no shard mapping.
	ErrUnknownPartition = errs.Class("unknown partition")
)

// PartitionKey identifies a geographic region.
type PartitionKey string

// Normalize returns the canonical form of the key used for lookups.
func (key PartitionKey) Normalize() PartitionKey {
	return PartitionKey(strings.ToLower(strings.TrimSpace(string(key))))
}

// ShardID identifies a shard.
type ShardID int

// Role describes what an endpoint is used for.
type Role int

const (
	// Primary is the writable endpoint of a shard.
	Primary Role = iota
	// Replica is a read-only copy of a shard.
	Replica
	// DocumentStore is the auxiliary document store.
	DocumentStore
)

// String implements fmt.Stringer.
func (role Role) String() string {
	switch role {
	case Primary:
		return "primary"
	case Replica:
		return "replica"
	case DocumentStore:
		return "docstore"
	default:
		return "role(" + strconv.Itoa(int(role)) + ")"
	}
}

// EndpointRef describes a single physical endpoint.
//
// EndpointRef is a comparable value and is used as a map key by pools and
// health reports.
type EndpointRef struct {
	Host        string
	Port        int
	Database    string
	Credentials string
	Role        Role
}

// Address returns host:port, or just the host when no port is set.
func (ref EndpointRef) Address() string {
	if ref.Port == 0 {
		return ref.Host
	}
	return net.JoinHostPort(ref.Host, strconv.Itoa(ref.Port))
}

// String implements fmt.Stringer.
func (ref EndpointRef) String() string {
	if ref.Database == "" {
		return fmt.Sprintf("%s(%s)", ref.Role, ref.Address())
	}
	return fmt.Sprintf("%s(%s/%s)", ref.Role, ref.Address(), ref.Database)
}

// Shard is an immutable shard descriptor.
type Shard struct {
	ID       ShardID
	Primary  EndpointRef
	Replicas []EndpointRef
}

// Endpoints returns the primary followed by all replicas.
func (shard Shard) Endpoints() []EndpointRef {
	all := make([]EndpointRef, 0, 1+len(shard.Replicas))
	all = append(all, shard.Primary)
	all = append(all, shard.Replicas...)
	return all
}

func (shard Shard) clone() Shard {
	shard.Replicas = append([]EndpointRef(nil), shard.Replicas...)
	return shard
}

// Topology is the static region to shard table.
type Topology struct {
	regions map[PartitionKey]ShardID
	shards  map[ShardID]Shard
	order   []ShardID
}

// New validates the configuration and builds an immutable Topology.
func New(config Config) (*Topology, error) {
	if len(config.Shards) == 0 {
		return nil, Error.New("no shards configured")
	}

	topo := &Topology{
		regions: make(map[PartitionKey]ShardID, len(config.Regions)),
		shards:  make(map[ShardID]Shard, len(config.Shards)),
	}

	for _, sc := range config.Shards {
		id := ShardID(sc.ID)
		if _, exists := topo.shards[id]; exists {
			return nil, Error.New("shard %d defined twice", sc.ID)
		}
		if sc.Primary.Host == "" {
			return nil, Error.New("shard %d has no primary", sc.ID)
		}

		shard := Shard{
			ID:      id,
			Primary: sc.Primary.ref(Primary),
		}
		for _, rc := range sc.Replicas {
			if rc.Host == "" {
				return nil, Error.New("shard %d has a replica without host", sc.ID)
			}
			shard.Replicas = append(shard.Replicas, rc.ref(Replica))
		}

		topo.shards[id] = shard
		topo.order = append(topo.order, id)
	}
	sort.Slice(topo.order, func(i, k int) bool { return topo.order[i] < topo.order[k] })

	for region, shardID := range config.Regions {
		key := PartitionKey(region).Normalize()
		if key == "" {
			return nil, Error.New("empty region name")
		}
		if _, ok := topo.shards[ShardID(shardID)]; !ok {
			return nil, Error.New("region %q maps to undefined shard %d", region, shardID)
		}
		if existing, ok := topo.regions[key]; ok && existing != ShardID(shardID) {
			return nil, Error.New("region %q mapped to shards %d and %d", region, existing, shardID)
		}
		topo.regions[key] = ShardID(shardID)
	}
	if len(topo.regions) == 0 {
		return nil, Error.New("no regions configured")
	}

	return topo, nil
}

// Resolve returns the shard that owns the partition key.
func (topo *Topology) Resolve(key PartitionKey) (Shard, error) {
	id, ok := topo.regions[key.Normalize()]
	if !ok {
		return Shard{}, ErrUnknownPartition.New("%q", string(key))
	}
	return topo.shards[id].clone(), nil
}

// Shard returns the shard with the given id.
func (topo *Topology) Shard(id ShardID) (Shard, bool) {
	shard, ok := topo.shards[id]
	if !ok {
		return Shard{}, false
	}
	return shard.clone(), true
}

// Shards returns all shards ordered by id.
func (topo *Topology) Shards() []Shard {
	shards := make([]Shard, 0, len(topo.order))
	for _, id := range topo.order {
		shards = append(shards, topo.shards[id].clone())
	}
	return shards
}

// Endpoints returns every endpoint of every shard, primaries first within a shard.
func (topo *Topology) Endpoints() []EndpointRef {
	var all []EndpointRef
	for _, id := range topo.order {
		all = append(all, topo.shards[id].Endpoints()...)
	}
	return all
}

// Regions returns the sorted list of known partition keys.
func (topo *Topology) Regions() []PartitionKey {
	keys := make([]PartitionKey, 0, len(topo.regions))
	for key := range topo.regions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, k int) bool { return keys[i] < keys[k] })
	return keys
}
