package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/batmon/internal/config"
	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/monitor"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll paired peripherals periodically until interrupted",
	Long: `Runs the battery monitor as a foreground daemon: discovers the paired
peripherals once at startup, then polls them on the configured refresh
interval. SIGINT or SIGTERM stops the loop and releases all cached links.`,
	RunE: runRun,
}

var (
	runInterval int
	runDebug    bool
)

func init() {
	runCmd.Flags().IntVar(&runInterval, "interval", 0, "Refresh interval in minutes (overrides config file)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug output (overrides config file)")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := config.LoadFile(cfgPath, logger)

	// Flag overrides go through the same flat option set the host plugin
	// contract uses, so they get identical validation.
	overrides := make(map[string]string)
	if cmd.Flags().Changed("interval") {
		overrides[config.KeyRefreshIntervalMinutes] = strconv.Itoa(runInterval)
	}
	if cmd.Flags().Changed("debug") {
		overrides[config.KeyDebug] = strconv.FormatBool(runDebug)
	}
	cfg.Apply(overrides, logger)

	if cfg.Debug && logger.GetLevel() < logrus.DebugLevel {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.WithField("config", cfg.String()).Info("Starting battery monitor")

	r, err := radio.NewBlueZRadio(logger)
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth stack: %w", err)
	}
	defer r.Close()

	plugin := monitor.New(cfg, r, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := plugin.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}

	err = plugin.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, monitor.ErrShutDown) {
		logger.WithError(err).Error("Monitor loop exited with error")
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return plugin.Shutdown(shutdownCtx)
}
