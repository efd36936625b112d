package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "timeledger/internal/log"
	"timeledger/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run on the refresh schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		noSchedule, _ := cmd.Flags().GetBool("no-schedule")

		c, err := build(cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		var runner web.Runner
		if c.app.Tracker != nil {
			runner = c.app
		} else {
			appLog.Warn("clockify is not configured; runs are disabled")
		}

		sig := NewSignalHandler(cmd.Context())
		sig.Start()
		defer sig.Stop()
		ctx := sig.Context()

		srv := web.NewServer(cfg, c.store, runner, c.app.Meetings)

		if runner != nil && !noSchedule {
			sched := cron.New(cron.WithLocation(cfg.Location()))
			if _, err := sched.AddFunc(cfg.RefreshCron, func() { scheduledRun(ctx, c, srv) }); err != nil {
				return err
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()
			appLog.Info("scheduler started", "refresh", cfg.RefreshCron, "timezone", cfg.Location().String())
		}

		return web.StartServer(ctx, cfg, srv)
	},
}

func scheduledRun(ctx context.Context, c *components, srv *web.Server) {
	started := time.Now()
	rep, err := c.app.Run(ctx)
	srv.RecordRun(started, rep, err)
	if err != nil {
		appLog.Error("scheduled run failed", err)
	}
}

func init() {
	serveCmd.Flags().Bool("no-schedule", false, "serve the API without scheduled runs")
}
