// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firestige/gb28181-nvr/internal/daemon"
	"github.com/firestige/gb28181-nvr/internal/log"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the gb28181-nvr device process in foreground",
	Long: `Run the gb28181-nvr device process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging, the SIP transport, and the catalog/recording store
  3. Register with the configured SIP platform and keep the session alive
  4. Serve catalog/record-info queries and dispatch media sessions on INVITE
  5. Start the local control socket for status/stop/reload commands
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	daemonCmd.Flags().BoolP("foreground", "f", true, "run in foreground (default: true)")
}

func runDaemon() error {
	fmt.Printf("Starting gb28181-nvr daemon (config: %s)\n", configFile)

	dev, err := daemon.New(configFile)
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	log.GetLogger().Info("daemon started, waiting for signals or control commands")

	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.GetLogger().WithField("signal", sig.String()).Info("received shutdown signal")
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				cancel()
				dev.Stop(stopCtx)
				stopCancel()
				return nil

			case syscall.SIGHUP:
				log.GetLogger().Info("received reload signal")
				if err := dev.Reload(); err != nil {
					log.GetLogger().WithError(err).Error("config reload failed")
				}
			}

		case <-dev.ShutdownRequested():
			log.GetLogger().Info("shutdown requested via control socket")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			cancel()
			dev.Stop(stopCtx)
			stopCancel()
			return nil
		}
	}
}
