// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package health

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"storj.io/regionshard/topology"
)

// Status is the result of probing an endpoint.
type Status int

const (
	// Healthy endpoints answered within the slow threshold.
	Healthy Status = iota
	// Unreachable endpoints could not be connected to or did not answer.
	Unreachable
	// SlowResponding endpoints answered, but took at least the slow threshold.
	SlowResponding
)

// String implements fmt.Stringer.
func (status Status) String() string {
	switch status {
	case Healthy:
		return "healthy"
	case Unreachable:
		return "unreachable"
	case SlowResponding:
		return "slow_responding"
	default:
		return "status(" + strconv.Itoa(int(status)) + ")"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (status Status) MarshalText() ([]byte, error) {
	return []byte(status.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (status *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*status = Healthy
	case "unreachable":
		*status = Unreachable
	case "slow_responding":
		*status = SlowResponding
	default:
		return errs.New("unknown status %q", text)
	}
	return nil
}

// Probe is the result of probing a single endpoint.
type Probe struct {
	Endpoint topology.EndpointRef
	ShardID  topology.ShardID
	Status   Status
	Latency  time.Duration
	Err      error
}

// Snapshot is the result of probing every endpoint once.
type Snapshot struct {
	CheckedAt time.Time
	Probes    []Probe

	index map[topology.EndpointRef]int
}

func newSnapshot(checkedAt time.Time, probes []Probe) *Snapshot {
	snapshot := &Snapshot{
		CheckedAt: checkedAt,
		Probes:    probes,
		index:     make(map[topology.EndpointRef]int, len(probes)),
	}
	for i, probe := range probes {
		snapshot.index[probe.Endpoint] = i
	}
	return snapshot
}

// Lookup returns the probe of endpoint.
func (snapshot *Snapshot) Lookup(endpoint topology.EndpointRef) (Probe, bool) {
	if snapshot == nil {
		return Probe{}, false
	}
	i, ok := snapshot.index[endpoint]
	if !ok {
		return Probe{}, false
	}
	return snapshot.Probes[i], true
}

// Shard returns the probes of the endpoints of a shard.
func (snapshot *Snapshot) Shard(id topology.ShardID) []Probe {
	var probes []Probe
	for _, probe := range snapshot.Probes {
		if probe.Endpoint.Role != topology.DocumentStore && probe.ShardID == id {
			probes = append(probes, probe)
		}
	}
	return probes
}

// Healthy reports whether every probed endpoint is reachable.
func (snapshot *Snapshot) Healthy() bool {
	return allReachable(snapshot.Probes)
}

// Counts returns the number of reachable endpoints and the total.
func (snapshot *Snapshot) Counts() (reachable, total int) {
	for _, probe := range snapshot.Probes {
		if probe.Status != Unreachable {
			reachable++
		}
	}
	return reachable, len(snapshot.Probes)
}

func allReachable(probes []Probe) bool {
	for _, probe := range probes {
		if probe.Status == Unreachable {
			return false
		}
	}
	return true
}

// WriteReport writes a human readable report of the snapshot.
func (snapshot *Snapshot) WriteReport(w io.Writer) error {
	var b strings.Builder
	line := strings.Repeat("=", 60)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "Database Health Check")
	fmt.Fprintf(&b, "Timestamp: %s\n", snapshot.CheckedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(&b, line)

	var shards, docs []Probe
	for _, probe := range snapshot.Probes {
		if probe.Endpoint.Role == topology.DocumentStore {
			docs = append(docs, probe)
		} else {
			shards = append(shards, probe)
		}
	}

	writeSection := func(title string, probes []Probe) {
		fmt.Fprintf(&b, "\n%s\n%s\n", title, strings.Repeat("-", 60))
		healthy := 0
		for _, probe := range probes {
			mark := "✓"
			if probe.Status == Unreachable {
				mark = "✗"
			} else {
				healthy++
			}
			fmt.Fprintf(&b, "  %s %s: %s (%s)", mark, probe.Endpoint, strings.ToUpper(probe.Status.String()), probe.Latency.Round(time.Millisecond))
			if probe.Err != nil {
				fmt.Fprintf(&b, ": %v", probe.Err)
			}
			fmt.Fprintln(&b)
		}
		fmt.Fprintf(&b, "\n  %d/%d endpoints reachable\n", healthy, len(probes))
	}

	writeSection("Shards", shards)
	if len(docs) > 0 {
		writeSection("Document store", docs)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, line)
	if snapshot.Healthy() {
		fmt.Fprintln(&b, "✓ All database systems are healthy!")
	} else {
		fmt.Fprintln(&b, "✗ Some database systems are unhealthy.")
	}
	fmt.Fprintln(&b, line)

	_, err := io.WriteString(w, b.String())
	return err
}
