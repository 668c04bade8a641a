package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"almanac/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon in the foreground",
	Long: `Run loads the configuration, re-arms every persisted order and delivers
fires until interrupted. The built-in "log" handler is always registered.

Under systemd (Type=notify) readiness and shutdown are reported with sd_notify.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		a, err := app.NewApp(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Facade().Register(app.LogTag, app.LogHandler(a.Logger())); err != nil {
			return err
		}
		if err := a.Start(context.Background()); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

		var reason app.StopReason
		select {
		case sig := <-sigs:
			reason = app.StopSIGTERM
			if sig == os.Interrupt {
				reason = app.StopSIGINT
			}
		case <-a.Done():
			reason = app.StopFatalError
		}
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		if err := a.Stop(stopCtx, reason); err != nil {
			return err
		}
		return a.Err()
	},
}
