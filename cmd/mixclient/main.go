// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/katzenpost/mixclient/client"
	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/common"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/path"
	"github.com/katzenpost/mixclient/core/topology"
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile string
	Local      bool
}

func (c *Config) load() (*config.Config, error) {
	if c.ConfigFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(c.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", c.ConfigFile, err)
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "mixclient",
		Short: "Mix network traffic client",
		Long: `mixclient fetches the mix network topology from the directory, then
sends one packet per tick along a freshly selected route through every
layer, and periodically pulls its mailbox from a provider.

Packets carry queued messages when there are any and cover traffic
otherwise.  The client runs until interrupted.`,
		Example: `  # Run against the production directory with defaults
  mixclient

  # Run against a local deployment
  mixclient --local

  # Run with a configuration file
  mixclient --config /etc/mixclient/client.toml

  # Print the current topology and a sample route
  mixclient topology --local`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"path to the client configuration file (TOML format)")
	cmd.PersistentFlags().BoolVarP(&cfg.Local, "local", "l", false,
		"use the local directory instead of the production one")

	cmd.AddCommand(newTopologyCommand(&cfg))
	return cmd
}

func newTopologyCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the current topology and a sample route",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTopology(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func main() {
	common.ExecuteWithFang(context.Background(), newRootCommand())
}

func runClient(ctx context.Context, cfg Config) error {
	clientCfg, err := cfg.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return client.Run(ctx, clientCfg, cfg.Local)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	layerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func printTopology(ctx context.Context, w io.Writer, cfg *Config) error {
	clientCfg, err := cfg.load()
	if err != nil {
		return err
	}
	logBackend, err := log.New("", clientCfg.Logging.Level, true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(clientCfg.Directory.FetchTimeout)*time.Second)
	defer cancel()
	doc, err := client.FetchTopology(ctx, clientCfg, cfg.Local, logBackend)
	if err != nil {
		return err
	}
	layered, err := topology.Build(doc)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Topology from %s", clientCfg.DirectoryURL(cfg.Local))))
	for l := 1; l <= layered.Len(); l++ {
		fmt.Fprintln(w, layerStyle.Render(fmt.Sprintf("Layer %d", l)))
		for _, n := range layered.Layer(l) {
			fmt.Fprintf(w, "  %s %s\n", n.Host, n.PubKey)
		}
	}
	fmt.Fprintln(w, headerStyle.Render("Providers"))
	for _, p := range doc.MixProviderNodes {
		fmt.Fprintf(w, "  %s (%d clients)\n", p.ClientListener, len(p.RegisteredClients))
	}

	route, err := path.New(rand.NewMath(), layered)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, headerStyle.Render("Sample route"))
	for _, hop := range route.Strings() {
		fmt.Fprintf(w, "  %s\n", hop)
	}
	return nil
}
