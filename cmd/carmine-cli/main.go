// Command carmine-cli is an interactive, redis-cli-alike client built on
// top of this module's own Session and wire codec.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/bpoweski/carmine/internal/cli"
	"github.com/bpoweski/carmine/internal/logger"
	"github.com/bpoweski/carmine/internal/metrics"
)

// version, commit and buildDate are overridden at build time with
// -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "carmine-cli",
	Short: "Interactive command-line client for a carmine-speaking server",
	Long: `carmine-cli connects to a RESP server using this module's own
pipelined Session and wire codec, instead of hand-rolling RESP text.

Examples:
  carmine-cli
  carmine-cli --host 127.0.0.1 --port 6379
  carmine-cli --eval "SET key value"
  carmine-cli --file commands.txt
  carmine-cli --cluster mycluster --host 10.0.0.1 --port 6379`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Configure(logger.LogLevel(getStringFlag(cmd, "log-level", "silent")), nil)
		if addr := getStringFlag(cmd, "metrics-addr", ""); addr != "" {
			metrics.Enable(true)
			metrics.ServeMetrics(addr)
		}
		cli.RunCLI(&cli.CLIConfig{
			Host:     getStringFlag(cmd, "host", "127.0.0.1"),
			Port:     getIntFlag(cmd, "port", 6379),
			Password: getStringFlag(cmd, "password", ""),
			Database: getIntFlag(cmd, "db", 0),
			Cluster:  getStringFlag(cmd, "cluster", ""),
			Timeout:  getDurationFlag(cmd, "timeout", 5*time.Second),
			TLS:      getBoolFlag(cmd, "tls"),
			Raw:      getBoolFlag(cmd, "raw"),
			Eval:     getStringFlag(cmd, "eval", ""),
			File:     getStringFlag(cmd, "file", ""),
			Pipe:     getBoolFlag(cmd, "pipe"),
		}, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print carmine-cli's build version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Version: %s\nCommit: %s\nBuild date: %s\nGOOS: %s-%s\n",
			version, commit, buildDate, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.Flags().String("host", "127.0.0.1", "server host")
	rootCmd.Flags().IntP("port", "p", 6379, "server port")
	rootCmd.Flags().StringP("password", "a", "", "AUTH password")
	rootCmd.Flags().IntP("db", "d", 0, "database number (SELECT)")
	rootCmd.Flags().String("cluster", "", "cluster name; non-empty routes every flush through the cluster dispatcher")
	rootCmd.Flags().Duration("timeout", 5*time.Second, "connection timeout")
	rootCmd.Flags().Bool("tls", false, "use TLS")
	rootCmd.Flags().Bool("raw", false, "use raw formatting for replies")
	rootCmd.Flags().String("eval", "", "send a single command and exit")
	rootCmd.Flags().String("file", "", "execute commands from a file")
	rootCmd.Flags().Bool("pipe", false, "pipe mode: read commands from stdin")
	rootCmd.Flags().String("log-level", "silent", "client log level (debug, info, warn, error, silent)")
	rootCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (empty disables)")
}

func getStringFlag(cmd *cobra.Command, name, defaultValue string) string {
	if value, err := cmd.Flags().GetString(name); err == nil && value != "" {
		return value
	}
	return defaultValue
}

func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func getIntFlag(cmd *cobra.Command, name string, defaultValue int) int {
	if value, err := cmd.Flags().GetInt(name); err == nil {
		return value
	}
	return defaultValue
}

func getDurationFlag(cmd *cobra.Command, name string, defaultValue time.Duration) time.Duration {
	if value, err := cmd.Flags().GetDuration(name); err == nil {
		return value
	}
	return defaultValue
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
