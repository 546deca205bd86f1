package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/batmon/internal/config"
	"github.com/srg/batmon/internal/radio"
	"github.com/srg/batmon/internal/registry"
	"github.com/srg/batmon/monitor"
)

// onceCmd represents the once command
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single polling cycle and print the results",
	RunE:  runOnce,
}

var onceTimeout time.Duration

func init() {
	onceCmd.Flags().DurationVar(&onceTimeout, "timeout", 2*time.Minute, "Overall cycle timeout")
}

func runOnce(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg := config.LoadFile(cfgPath, logger)

	r, err := radio.NewBlueZRadio(logger)
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth stack: %w", err)
	}
	defer r.Close()

	plugin := monitor.New(cfg, r, logger)

	ctx, cancel := context.WithTimeout(context.Background(), onceTimeout)
	defer cancel()

	if err := plugin.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}
	if err := plugin.RunCycle(ctx); err != nil {
		return fmt.Errorf("polling cycle failed: %w", err)
	}

	printSensors(plugin)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return plugin.Shutdown(shutdownCtx)
}

// printSensors renders the display fields as a table
func printSensors(plugin *monitor.Plugin) {
	store := plugin.Sensors()
	ids := store.IDs()
	if len(ids) == 0 {
		fmt.Println("No paired peripherals to poll")
		return
	}

	bold := color.New(color.Bold)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\n", bold.Sprint("NAME"), bold.Sprint("STATUS"), bold.Sprint("BATTERY"))
	for _, id := range ids {
		fields, ok := store.Get(id)
		if !ok {
			continue
		}

		battery := "-"
		if fields.Status == registry.StatusConnected.String() {
			battery = fmt.Sprintf("%d%%", fields.Battery)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", fields.Name, colorizeStatus(fields.Status), battery)
	}
	w.Flush()
}

func colorizeStatus(status string) string {
	switch status {
	case registry.StatusConnected.String():
		return color.GreenString(status)
	case registry.StatusConnectedNoBatteryService.String():
		return color.YellowString(status)
	case registry.StatusUnknown.String():
		return status
	default:
		return color.RedString(status)
	}
}
