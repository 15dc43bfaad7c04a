package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"subwaybot/internal/app"
	"subwaybot/internal/booking"
	"subwaybot/internal/config"
)

func newStartCmd() *cobra.Command {
	var (
		subscribe     string
		processes     int
		notify        bool
		cfgPath       string
		logLevel      string
		watchInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the booking scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hours, err := booking.ParseHours(subscribe)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := app.New(ctx, app.Options{
				ConfigPath:     cfgPath,
				Hours:          hours,
				MaxConcurrency: processes,
				Notify:         notify,
				LogLevel:       logLevel,
				WatchInterval:  watchInterval,
				Version:        Version,
			})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}

	f := cmd.Flags()
	f.StringVar(&subscribe, "subscribe", "12,20", "hours of the day at which tickets for tomorrow are released")
	f.IntVar(&processes, "processes", booking.DefaultMaxConcurrency, "maximum accounts booking at the same time")
	f.BoolVar(&notify, "notify", false, "send results and expiry warnings through the notifier channel")
	f.StringVarP(&cfgPath, "config", "c", "./config.json", "path to the config file (.json, .yaml)")
	f.StringVar(&logLevel, "log-level", "", "TRACE, DEBUG, INFO, WARN or ERROR; overrides logging.level")
	f.DurationVar(&watchInterval, "watch-interval", config.DefaultPollInterval, "config file poll interval")
	return cmd
}
