// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package process implements the shared setup of regionshard commands:
// flags bound from config structs, configuration files, environment
// overrides and logging.
package process

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix of environment variables overriding flags.
// The flag pool.max-conns is read from REGIONSHARD_POOL_MAX_CONNS.
const EnvPrefix = "regionshard"

// Error is the process error class.
var Error = errs.Class("process")

var (
	mu           sync.Mutex
	commandViper = map[*cobra.Command]*viper.Viper{}
	contexts     = map[*cobra.Command]context.Context{}
	cancels      = map[*cobra.Command]context.CancelFunc{}

	logFlags struct {
		Log LogConfig
	}
	cfgFile string
)

// Viper returns the configuration of cmd. Values come from, in order of
// precedence, explicitly set flags, the environment, the configuration file
// and flag defaults.
func Viper(cmd *cobra.Command) *viper.Viper {
	mu.Lock()
	defer mu.Unlock()

	if vip, ok := commandViper[cmd]; ok {
		return vip
	}
	vip := viper.New()
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()
	commandViper[cmd] = vip
	return vip
}

// Ctx returns the context of a running command. It is canceled on SIGINT or
// SIGTERM.
func Ctx(cmd *cobra.Command) context.Context {
	mu.Lock()
	defer mu.Unlock()

	if ctx, ok := contexts[cmd]; ok {
		return ctx
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	contexts[cmd] = ctx
	cancels[cmd] = cancel
	return ctx
}

// Exec runs cmd and exits the process on failure.
func Exec(cmd *cobra.Command) {
	if err := Run(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

// Run sets up configuration and logging for cmd and all of its subcommands
// and executes it.
func Run(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	if flags.Lookup("config") == nil {
		flags.StringVar(&cfgFile, "config", "", "configuration file in YAML format")
	}
	if flags.Lookup("log.level") == nil {
		BindFlags(flags, &logFlags)
	}

	for _, c := range commands(cmd) {
		wrapRun(c)
	}
	return cmd.Execute()
}

func commands(cmd *cobra.Command) []*cobra.Command {
	all := []*cobra.Command{cmd}
	for _, sub := range cmd.Commands() {
		all = append(all, commands(sub)...)
	}
	return all
}

// wrapRun loads the configuration before the command runs and installs the
// global logger.
func wrapRun(cmd *cobra.Command) {
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := load(cmd); err != nil {
			return err
		}

		log, err := NewLogger(logFlags.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		defer zap.ReplaceGlobals(log)()
		defer zap.RedirectStdLog(log)()

		defer func() {
			mu.Lock()
			cancel := cancels[cmd]
			mu.Unlock()
			if cancel != nil {
				cancel()
			}
		}()

		return run(cmd, args)
	}
}

// load applies the configuration file and environment to every flag that
// was not set on the command line.
func load(cmd *cobra.Command) error {
	vip := Viper(cmd)

	if file := configFile(cmd); file != "" {
		vip.SetConfigFile(file)
		if err := vip.ReadInConfig(); err != nil {
			return Error.Wrap(fmt.Errorf("reading %s: %w", file, err))
		}
	}

	var group errs.Group
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "config" || flag.Changed || !vip.IsSet(flag.Name) {
			return
		}
		if err := flag.Value.Set(vip.GetString(flag.Name)); err != nil {
			group.Add(Error.Wrap(fmt.Errorf("%s: %w", flag.Name, err)))
		}
	})
	return group.Err()
}

func configFile(cmd *cobra.Command) string {
	if flag := cmd.Flags().Lookup("config"); flag != nil && flag.Changed {
		return flag.Value.String()
	}
	return os.Getenv(strings.ToUpper(EnvPrefix) + "_CONFIG")
}
