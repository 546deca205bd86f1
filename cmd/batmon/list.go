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

	"github.com/srg/batmon/internal/radio"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List paired BLE peripherals",
	Long: `Lists the peripherals paired with this host's Bluetooth adapter, as reported
by BlueZ. Peripherals without a name are skipped, matching what the monitor
tracks.`,
	RunE: runList,
}

var listTimeout time.Duration

func init() {
	listCmd.Flags().DurationVar(&listTimeout, "timeout", 10*time.Second, "Enumeration timeout")
}

func runList(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	r, err := radio.NewBlueZRadio(logger)
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth stack: %w", err)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	peripherals, err := r.PairedPeripherals(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate paired peripherals: %w", err)
	}

	if len(peripherals) == 0 {
		fmt.Println("No paired peripherals found")
		return nil
	}

	bold := color.New(color.Bold)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", bold.Sprint("NAME"), bold.Sprint("ID"))
	for _, p := range peripherals {
		if p.Name == "" {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", p.Name, p.ID)
	}
	return w.Flush()
}
