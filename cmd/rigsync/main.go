// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command rigsync is a terminal client for streamed AI conversations.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/jeranaias/rigsync/internal/cli"
	"github.com/jeranaias/rigsync/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("rigsync command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "rigsync",
		Short:         "Terminal client for streamed AI conversations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default ~/.rigsync/config.toml)")

	root.AddCommand(newChatCmd(&cfgPath))
	root.AddCommand(newConversationsCmd(&cfgPath))
	root.AddCommand(newConfigCmd(&cfgPath))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "rigsync %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return err
		},
	}
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig loads the config at path, or the default location when path is
// empty. The returned path is the file to watch or write; it may not exist.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		return cfg, path, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	defaultPath, err := config.ConfigPath()
	if err != nil {
		return cfg, "", nil
	}
	return cfg, defaultPath, nil
}

// openApp loads configuration and wires the client stack. The returned
// function releases everything.
func openApp(cmd *cobra.Command, cfgPath string) (*cli.App, string, func(), error) {
	cfg, path, err := loadConfig(cfgPath)
	if err != nil {
		return nil, "", nil, err
	}
	log, logCloser, err := cli.OpenLogger(cfg, os.Stderr)
	if err != nil {
		return nil, "", nil, err
	}
	app, err := cli.NewApp(cmd.Context(), cfg, log)
	if err != nil {
		logCloser.Close()
		return nil, "", nil, err
	}
	cleanup := func() {
		if err := app.Close(); err != nil {
			log.Warn("rigsync: close failed", "error", err)
		}
		logCloser.Close()
	}
	return app, path, cleanup, nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
