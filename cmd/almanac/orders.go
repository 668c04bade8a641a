package main

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"almanac/internal/app"
	"almanac/internal/config"
	"almanac/internal/order"
	logx "almanac/pkg/logx"
)

func openOffline(cmd *cobra.Command) (*app.Offline, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	return app.OpenOffline(cfg, logx.NewConsole("warn"))
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Add an order to the store; it is armed by the next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := orderFromFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		x, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer x.Close()

		id, err := x.Add(cmd.Context(), o)
		if err != nil {
			return err
		}
		if id == order.DeadID {
			pterm.Warning.Println("order has no future occurrence; nothing stored")
			return nil
		}
		pterm.Success.Printf("scheduled order %d\n", id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored orders with their next occurrence",
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer x.Close()

		orders, err := x.Orders(cmd.Context())
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			pterm.Info.Println("no orders")
			return nil
		}
		return renderOrders(orders, x)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show the firing history of an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		x, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer x.Close()

		evs, err := x.Events(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			pterm.Info.Printf("no events for order %d\n", id)
			return nil
		}
		return renderEvents(evs)
	},
}

var unscheduleCmd = &cobra.Command{
	Use:   "unschedule [id]",
	Short: "Remove one order, or every order when no id is given",
	Long: `Unschedule deletes orders from the store. A running daemon keeps any
timer it already armed until it restarts; use this while the daemon is stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer x.Close()

		if len(args) == 0 {
			n, err := x.RemoveAll(cmd.Context())
			if err != nil {
				return err
			}
			pterm.Success.Printf("removed %d orders\n", n)
			return nil
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := x.Remove(cmd.Context(), id); err != nil {
			return err
		}
		pterm.Success.Printf("removed order %d\n", id)
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Preview the next occurrences of an order without storing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := orderFromFlags(cmd, time.Now())
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("count")
		x, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer x.Close()

		occ := x.Preview(o, n)
		if len(occ) == 0 {
			pterm.Warning.Println("dead: no future occurrence")
			return nil
		}
		return renderOccurrences(occ)
	},
}

func init() {
	addOrderFlags(scheduleCmd)
	addOrderFlags(nextCmd)
	nextCmd.Flags().IntP("count", "n", 5, "number of occurrences")
}

func parseID(s string) (order.ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Newf("invalid order id %q", s)
	}
	return order.ID(n), nil
}
