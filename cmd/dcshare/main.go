// Command dcshare is the process entrypoint: it loads a YAML config,
// builds a session.Core, connects the configured hubs, and runs the tick
// loop until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kprimus/dcshare"
	"github.com/kprimus/dcshare/internal/logger"
	"github.com/kprimus/dcshare/session"
)

func main() {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "dcshare",
		Short: "A Direct Connect file-sharing client daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.SetLevel(logLevel)
			cfg, err := dcshare.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return run(*cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "~/.dcshare/config.yaml", "path to the YAML config file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warning, or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg session.Config) error {
	core, err := session.New(cfg)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer core.Close()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			core.Tick(now)
		case <-sigC:
			return nil
		}
	}
}
