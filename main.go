// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ffutop/modbus-cli/client"
	"github.com/ffutop/modbus-cli/internal/config"
	"github.com/ffutop/modbus-cli/internal/shell"
)

var version = "dev"

type options struct {
	configFile  string
	printConfig bool
	accessible  bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "modbus-cli",
		Short: "Interactive Modbus TCP client",
		Long: `modbus-cli connects to a Modbus TCP server and reads or writes holding
registers from an interactive menu.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, out, opts)
		},
	}

	def := client.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file path.")
	flags.StringP("host", "H", def.Host, "Modbus server host.")
	flags.IntP("port", "p", client.DefaultTestPort, "Modbus server port.")
	flags.IntP("unit", "u", int(def.UnitID), "Unit id (1-247).")
	flags.IntP("retries", "r", def.MaxRetries, "Connect attempts before giving up.")
	flags.Duration("retry-delay", def.RetryDelay, "Delay between connect attempts.")
	flags.String("backoff", "fixed", "Retry delay strategy (fixed, exponential).")
	flags.Duration("timeout", def.RequestTimeout, "Response wait time per request.")
	flags.StringP("log-level", "v", "warn", "Log verbosity level (debug, info, warn, error).")
	flags.StringP("log-file", "L", "", "Log file name ('-' for logging to STDERR only).")
	flags.Bool("no-prompt", false, "Connect to the configured server without asking.")
	flags.BoolVar(&opts.printConfig, "print-config", false, "Print the effective configuration and exit.")
	flags.BoolVar(&opts.accessible, "accessible", false, "Use plain line based prompts.")
	return cmd
}

func run(cmd *cobra.Command, out io.Writer, opts options) error {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(v, opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.printConfig {
		return config.Dump(out, cfg)
	}

	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Shutting down...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("Starting modbus-cli", "version", version, "server", clientCfg.Address())
	start := time.Now()
	sh := shell.New(client.New(), shell.HuhPrompter{Accessible: opts.accessible}, out)
	err = sh.Run(ctx, clientCfg, cfg.Prompt)
	slog.Info("Goodbye.", "uptime", time.Since(start).Round(time.Second))
	return err
}

// setupLogger installs the default slog handler and returns a function
// releasing the log file, if any.
func setupLogger(cfg config.LogConfig) func() {
	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "error":
		opts.Level = slog.LevelError
	}

	closer := func() {}
	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
			closer = func() { f.Close() }
		}
	} else {
		// stdout belongs to the interactive shell
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}
