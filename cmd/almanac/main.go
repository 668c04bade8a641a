package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "almanac",
	Short: "Persistent work-order scheduler",
	Long: `almanac runs work orders at their scheduled instants.

An order is a tag (which handler runs it), a payload, and a schedule:
a one-shot start time, a fixed interval from the start (optionally bounded
by an end time), or weekly on chosen weekdays every N weeks.

Examples:
  almanac run --config almanac.yaml
  almanac schedule --tag log --start 2025-01-06T09:00:00+07:00 --days mon,fri --every 168h
  almanac list
  almanac events 1000000
  almanac next --start 2025-01-06T09:00:00Z --every 15m --count 5`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (.yaml, .toml or .json); empty uses defaults")
	rootCmd.AddCommand(runCmd, scheduleCmd, listCmd, eventsCmd, unscheduleCmd, nextCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
