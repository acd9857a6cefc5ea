// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/motion_streamer/internal/app"
	"github.com/relabs-tech/motion_streamer/internal/config"
)

var RootCmd = &cobra.Command{
	Use:   "motion-streamer",
	Short: "BLE motion sensor streaming and decoding pipeline",
	Long:  "BLE motion sensor streaming and decoding pipeline",
}

// setup runs before every subcommand: it loads the configuration,
// applies command-line overrides on top of it and builds the logger.
func setup(cmd *cobra.Command) (logrus.FieldLogger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if err := config.InitGlobal(configPath); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := applyFlagOverrides(cmd, config.Get()); err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log, nil
}

// applyFlagOverrides copies explicitly set command-line flags into the
// loaded configuration. Flags the user did not pass keep the file or
// default values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("timeout") {
		ms, _ := flags.GetInt("timeout")
		if ms <= 0 {
			return fmt.Errorf("--timeout must be positive, got %d", ms)
		}
		cfg.ScanTimeoutMS = ms
	}
	if flags.Changed("duration") {
		ms, _ := flags.GetInt("duration")
		if ms <= 0 {
			return fmt.Errorf("--duration must be positive, got %d", ms)
		}
		cfg.StreamDurationMS = ms
	}
	if flags.Changed("addresses") {
		cfg.DeviceAddresses, _ = flags.GetStringSlice("addresses")
	}
	if flags.Changed("output") {
		cfg.OutputFile, _ = flags.GetString("output")
	}
	if flags.Changed("pretty") {
		cfg.OutputPretty, _ = flags.GetBool("pretty")
	}
	if flags.Changed("broker") {
		cfg.MQTTBroker, _ = flags.GetString("broker")
	}
	if flags.Changed("port") {
		cfg.WebServerPort, _ = flags.GetInt("port")
	}
	return nil
}

func streamFlags(cmd *cobra.Command) {
	cmd.Flags().Int("timeout", 0, "scan timeout in milliseconds")
	cmd.Flags().IntP("duration", "d", 0, "streaming duration in milliseconds")
	cmd.Flags().StringSliceP("addresses", "a", nil, "explicit device addresses, skips scanning")
	cmd.Flags().StringP("output", "o", "", "JSON stream output file")
	cmd.Flags().Bool("pretty", false, "indent JSON output")
}

var ScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "scan for nearby motion sensors",
	Long: `scan listens for BLE advertisements and prints every discovered
motion sensor with its address and signal strength, strongest first.`,
	Example: `  motion-streamer scan --timeout 8000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setup(cmd)
		if err != nil {
			return err
		}
		return app.RunScan(log)
	},
}

var StreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "stream orientation data from a single sensor",
	Long: `stream connects to one sensor and prints decoded orientation
samples for the configured duration. The sensor is either the first
explicit address or the strongest scan match.`,
	Example: `  motion-streamer stream -d 10000 -o run.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setup(cmd)
		if err != nil {
			return err
		}
		return app.RunStream(log)
	},
}

var MultiCmd = &cobra.Command{
	Use:   "multi",
	Short: "stream orientation data from several sensors at once",
	Long: `multi connects to every target sensor concurrently, streams a
shared measurement window and writes one result document with the
status and samples of every session.`,
	Example: `  motion-streamer multi --interactive --results run.json
  motion-streamer multi -a D1:3A:00:11:22:33,D1:3A:00:44:55:66`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setup(cmd)
		if err != nil {
			return err
		}
		interactive, _ := cmd.Flags().GetBool("interactive")
		results, _ := cmd.Flags().GetString("results")
		return app.RunMulti(log, app.MultiOptions{
			Interactive: interactive,
			ResultsFile: results,
		})
	},
}

var PublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "stream sensors and publish samples to MQTT",
	Long: `publish runs a multi-sensor measurement and forwards every
decoded sample to the MQTT broker, one retained topic per device.`,
	Example: `  motion-streamer publish --broker tcp://localhost:1883`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setup(cmd)
		if err != nil {
			return err
		}
		return app.RunPublisher(log)
	},
}

var WebCmd = &cobra.Command{
	Use:   "web",
	Short: "serve the live orientation viewer",
	Long: `web subscribes to the MQTT quaternion topics and serves the
latest reading per device over HTTP and websocket.`,
	Example: `  motion-streamer web --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setup(cmd)
		if err != nil {
			return err
		}
		return app.RunWeb(log)
	},
}

func getRootCmd() *cobra.Command {
	RootCmd.PersistentFlags().String("config", "", "configuration file path")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "toggle debug logging")

	ScanCmd.Flags().Int("timeout", 0, "scan timeout in milliseconds")
	RootCmd.AddCommand(ScanCmd)

	streamFlags(StreamCmd)
	RootCmd.AddCommand(StreamCmd)

	streamFlags(MultiCmd)
	MultiCmd.Flags().BoolP("interactive", "i", false, "pick target sensors from the scan list")
	MultiCmd.Flags().String("results", "", "write the final result document to this file")
	RootCmd.AddCommand(MultiCmd)

	streamFlags(PublishCmd)
	PublishCmd.Flags().String("broker", "", "MQTT broker URL")
	RootCmd.AddCommand(PublishCmd)

	WebCmd.Flags().String("broker", "", "MQTT broker URL")
	WebCmd.Flags().IntP("port", "p", 0, "HTTP listen port")
	RootCmd.AddCommand(WebCmd)

	return RootCmd
}

func Execute() {
	rootCmd := getRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
