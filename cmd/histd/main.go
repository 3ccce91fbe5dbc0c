package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basalt-labs/histd/pkg/bootstrap"
	"github.com/basalt-labs/histd/pkg/config"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/supervisor"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "histd [flags] DB_PATH",
	Short: "histd is the centralized shell command history server",
	Long: `histd binds a UDP ingest socket and a TCP query socket on the
same service port and persists every recorded command into an
embedded SQL database.`,
	Args: cobra.ExactArgs(1),
	RunE: runServer,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().Bool("daemonize", false, "Detach and run as a background daemon")
	rootCmd.Flags().Int("port", config.DefaultPort, "Service port for both the UDP ingest socket and the TCP query listener")
	rootCmd.Flags().Int("monitor-interval", 60, "Self-telemetry sampling interval, in seconds")
	rootCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus gauges on (disabled if empty)")

	rootCmd.AddCommand(evalCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	daemonize, _ := cmd.Flags().GetBool("daemonize")
	port, _ := cmd.Flags().GetInt("port")
	monitorInterval, _ := cmd.Flags().GetInt("monitor-interval")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg := config.Server{
		DBPath:          args[0],
		Port:            port,
		Daemonize:       daemonize,
		DaemonLogPath:   "/tmp/history-daemon.log",
		MonitorInterval: monitorInterval,
		MetricsAddr:     metricsAddr,
	}

	if cfg.Daemonize {
		if err := daemonizeProcess(cfg.DaemonLogPath); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}

	return supervisor.Run(context.Background(), cfg)
}

var evalCmd = &cobra.Command{
	Use:   "eval SERVER_ADDR",
	Short: "Print the shell bootstrap fragment for SERVER_ADDR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := rootCmd.Flags().GetInt("port")
		if port == 0 {
			port = config.DefaultPort
		}
		fmt.Println(bootstrap.Eval(args[0], port))
		return nil
	},
}

// daemonizeProcess detaches stdin and redirects stdout/stderr to
// logPath, then chdirs to /tmp (spec section 6: "close stdin, reopen
// stdout and stderr as /tmp/history-daemon.log, chdir /tmp").
func daemonizeProcess(logPath string) error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := syscall.Dup2(int(devNull.Fd()), int(os.Stdin.Fd())); err != nil {
		return err
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if err := syscall.Dup2(int(logFile.Fd()), int(os.Stdout.Fd())); err != nil {
		return err
	}
	if err := syscall.Dup2(int(logFile.Fd()), int(os.Stderr.Fd())); err != nil {
		return err
	}

	return os.Chdir("/tmp")
}
