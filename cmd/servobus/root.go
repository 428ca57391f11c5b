package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hipsterbrown/servobus/internal/config"
	"github.com/hipsterbrown/servobus/internal/logging"
	"github.com/hipsterbrown/servobus/session"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "servobus",
	Short: "Scan, inspect and configure Dynamixel servos",
	Long: `servobus talks to Dynamixel servos over a serial port using Protocol 1.0
or 2.0. It can sweep a bus for servos, read and write control table fields,
and serve the same operations over HTTP and WebSocket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(path, cmd.Flags())
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or console")
	rootCmd.PersistentFlags().String("log-output", "", "stdout, stderr or a file path")

	rootCmd.AddCommand(portsCmd, scanCmd, readCmd, writeCmd, serveCmd)
}

// addBusFlags registers the flags shared by commands that open a bus.
func addBusFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("port", "p", "", "serial port, e.g. /dev/ttyUSB0")
	cmd.Flags().String("protocol", "", "protocol version: 1.0 or 2.0")
	cmd.Flags().IntP("baudrate", "b", 0, "baud rate")
	_ = cmd.MarkFlagRequired("port")
}

// busParams returns the port, protocol and baud rate after applying config
// defaults.
func busParams(cmd *cobra.Command) (string, session.Protocol, int) {
	port, _ := cmd.Flags().GetString("port")
	return port, session.Protocol(cfg.Serial.DefaultProtocol), cfg.Serial.DefaultBaudrate
}
