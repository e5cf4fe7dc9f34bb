// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/regionshard/private/errs2"
	"storj.io/regionshard/topology"
)

// ServerConfig is the configuration of the health HTTP server.
type ServerConfig struct {
	Enabled bool   `help:"whether the health server is enabled" default:"false"`
	Address string `help:"the address to listen on for the health server" default:"localhost:10500"`
}

// Server serves the latest snapshot over HTTP.
type Server struct {
	log      *zap.Logger
	reporter *Reporter

	listener net.Listener
	server   http.Server
}

// NewServer creates a new health server.
func NewServer(log *zap.Logger, listener net.Listener, reporter *Reporter) *Server {
	srv := &Server{
		log:      log,
		reporter: reporter,
		listener: listener,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", srv.handleAllHTTP).Methods(http.MethodGet)
	router.HandleFunc("/health/{shard}", srv.handleShardHTTP).Methods(http.MethodGet)

	srv.server = http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

type endpointJSON struct {
	Shard     int     `json:"shard,omitempty"`
	Role      string  `json:"role"`
	Address   string  `json:"address"`
	Database  string  `json:"database,omitempty"`
	Status    Status  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type reportJSON struct {
	Healthy   bool           `json:"healthy"`
	CheckedAt time.Time      `json:"checked_at"`
	Endpoints []endpointJSON `json:"endpoints"`
}

func toJSON(checkedAt time.Time, probes []Probe) reportJSON {
	report := reportJSON{
		Healthy:   allReachable(probes),
		CheckedAt: checkedAt,
		Endpoints: make([]endpointJSON, 0, len(probes)),
	}
	for _, probe := range probes {
		endpoint := endpointJSON{
			Shard:     int(probe.ShardID),
			Role:      probe.Endpoint.Role.String(),
			Address:   probe.Endpoint.Address(),
			Database:  probe.Endpoint.Database,
			Status:    probe.Status,
			LatencyMS: float64(probe.Latency.Microseconds()) / 1000,
		}
		if probe.Err != nil {
			endpoint.Error = probe.Err.Error()
		}
		report.Endpoints = append(report.Endpoints, endpoint)
	}
	return report
}

// snapshot returns the latest snapshot, checking once when there is none yet.
func (s *Server) snapshot(ctx context.Context) *Snapshot {
	if snapshot := s.reporter.Snapshot(); snapshot != nil {
		return snapshot
	}
	return s.reporter.Check(ctx)
}

func (s *Server) handleAllHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	snapshot := s.snapshot(ctx)
	err = s.writeJSON(w, toJSON(snapshot.CheckedAt, snapshot.Probes))
}

func (s *Server) handleShardHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	id, err := strconv.Atoi(mux.Vars(r)["shard"])
	if err != nil {
		err = s.writeError(w, http.StatusBadRequest, "invalid shard id")
		return
	}
	if _, ok := s.reporter.topo.Shard(topology.ShardID(id)); !ok {
		err = s.writeError(w, http.StatusNotFound, "unknown shard")
		return
	}

	snapshot := s.snapshot(ctx)
	err = s.writeJSON(w, toJSON(snapshot.CheckedAt, snapshot.Shard(topology.ShardID(id))))
}

func (s *Server) writeJSON(w http.ResponseWriter, report reportJSON) error {
	w.Header().Set("Content-Type", "application/json")
	if report.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	err := json.NewEncoder(w).Encode(report)
	if err != nil {
		s.log.Error("failed to encode health response", zap.Error(err))
	}
	return err
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(map[string]string{"error": message})
	if err != nil {
		s.log.Error("failed to encode health response", zap.Error(err))
	}
	return err
}

// Run starts the health server.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return s.server.Shutdown(context.Background())
	})
	group.Go(func() error {
		defer cancel()
		return errs2.IgnoreCanceled(s.server.Serve(s.listener))
	})
	return group.Wait()
}

// Close stops the server.
func (s *Server) Close() error {
	return s.server.Close()
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}
