// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gb28181-nvr",
	Short: "gb28181-nvr - a GB28181-compatible video surveillance media source",
	Long: `gb28181-nvr presents file-backed clips and live RTSP feeds as a
GB28181 media source device: it registers with a SIP platform, answers
catalog and recording-index queries over MANSCDP, and streams H.264/RTP
to the platform on INVITE.

Features:
  - SIP registration with digest auth, keepalive, and automatic re-registration
  - Catalog and RecordInfo query/response over MANSCDP-XML
  - SDP offer/answer negotiation and RTP media dispatch with session watchdogs
  - Local control: CLI via Unix Domain Socket (status, stop, reload)`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/gb28181-nvr/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/gb28181-nvr.sock",
		"daemon control socket path")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
