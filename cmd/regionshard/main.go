// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"storj.io/regionshard/peer"
	"storj.io/regionshard/private/errs2"
	"storj.io/regionshard/private/process"
	"storj.io/regionshard/router"
	"storj.io/regionshard/topology"
)

var (
	rootCmd = &cobra.Command{
		Use:   "regionshard",
		Short: "Region sharded database router",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the router with its health reporter and health server",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Create the schema on the primary of every shard",
		RunE:  cmdSetup,
	}
	routeCmd = &cobra.Command{
		Use:   "route <region> <read|write>",
		Short: "Show which endpoint serves an operation for a region",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdRoute,
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Probe every endpoint once and print a report",
		RunE:  cmdHealth,
	}
	topologyCmd = &cobra.Command{
		Use:   "topology",
		Short: "Print the effective topology configuration",
		RunE:  cmdTopology,
	}

	runCfg      peer.Config
	setupCfg    peer.Config
	routeCfg    peer.Config
	healthCfg   peer.Config
	topologyCfg peer.Config
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(topologyCmd)
	process.Bind(runCmd, &runCfg)
	process.Bind(setupCmd, &setupCfg)
	process.Bind(routeCmd, &routeCfg)
	process.Bind(healthCmd, &healthCfg)
	process.Bind(topologyCmd, &topologyCfg)
}

func main() {
	process.Exec(rootCmd)
}

// loadTopology reads the shard layout, which only the configuration file
// can express.
func loadTopology(cmd *cobra.Command, config *peer.Config) error {
	if err := process.Viper(cmd).UnmarshalKey("topology", &config.Topology); err != nil {
		return errs.Wrap(err)
	}
	if len(config.Topology.Regions) == 0 {
		config.Topology.Regions = topology.DefaultRegions()
	}
	return nil
}

func openPeer(cmd *cobra.Command, config *peer.Config) (*peer.Peer, error) {
	if err := loadTopology(cmd, config); err != nil {
		return nil, err
	}
	return peer.New(zap.L(), *config)
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	p, err := openPeer(cmd, &runCfg)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, p.Close()) }()

	log.Info("routing",
		zap.Int("shards", len(p.Topology.Shards())),
		zap.Int("regions", len(p.Topology.Regions())),
		zap.String("policy", string(runCfg.Router.Policy)))

	return errs2.IgnoreCanceled(p.Run(ctx))
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	setupCfg.HealthServer.Enabled = false
	p, err := openPeer(cmd, &setupCfg)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, p.Close()) }()

	return p.DB.Migrate(ctx)
}

func cmdRoute(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	class, err := router.ParseClass(args[1])
	if err != nil {
		return err
	}

	routeCfg.HealthServer.Enabled = false
	p, err := openPeer(cmd, &routeCfg)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, p.Close()) }()

	// routing skips replicas found unreachable by the check
	p.Health.Reporter.Check(ctx)

	selection, err := p.Router.Route(topology.PartitionKey(args[0]), class)
	if err != nil {
		return err
	}

	fmt.Printf("region:   %s\n", args[0])
	fmt.Printf("shard:    %d\n", selection.ShardID)
	fmt.Printf("endpoint: %s\n", selection.Endpoint)
	if selection.DegradedRead {
		fmt.Println("degraded: no usable replica, reading from the primary")
	}
	return nil
}

func cmdHealth(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)

	healthCfg.HealthServer.Enabled = false
	p, err := openPeer(cmd, &healthCfg)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, p.Close()) }()

	snapshot := p.Health.Reporter.Check(ctx)
	if err := snapshot.WriteReport(os.Stdout); err != nil {
		return err
	}

	if p.Docs != nil {
		if probe, ok := snapshot.Lookup(p.Docs.Endpoint()); ok && probe.Err == nil {
			stats, err := p.Docs.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\nDocument store: %d contents, %d preference documents\n", stats.Contents, stats.Preferences)
		}
	}

	if !snapshot.Healthy() {
		return errs.New("unhealthy endpoints found")
	}
	return nil
}

func cmdTopology(cmd *cobra.Command, args []string) error {
	if err := loadTopology(cmd, &topologyCfg); err != nil {
		return err
	}
	// validate before printing
	if _, err := topology.New(topologyCfg.Topology); err != nil {
		return err
	}

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	err := encoder.Encode(map[string]interface{}{"topology": topologyCfg.Topology})
	return errs.Combine(err, encoder.Close())
}
