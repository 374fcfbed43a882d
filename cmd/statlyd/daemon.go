package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/curlos/statly-backend-sub000/internal/config"
	"github.com/curlos/statly-backend-sub000/internal/daemon"
	"github.com/curlos/statly-backend-sub000/internal/dashboard"
	enginesync "github.com/curlos/statly-backend-sub000/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the periodic sync daemon",
	Long: `Run sync passes for every configured (user, source) pair on a fixed
interval. Policy knobs are hot-reloaded when the config file changes.
With the dashboard enabled, sync lifecycle events are broadcast over
WebSocket for live monitoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg, "[statlyd] ")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		var events enginesync.EventSink
		if cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Printf("Error stopping dashboard: %v", err)
				}
			}()
			events = dashboard.NewHandler(server, logger)
		}

		engine, err := buildEngine(cfg, st, events, logger)
		if err != nil {
			return err
		}

		var pairs []daemon.Pair
		for _, user := range cfg.Users {
			for _, source := range user.Sources {
				pairs = append(pairs, daemon.Pair{UserID: user.ID, Source: source})
			}
		}

		d, err := daemon.New(engine, &daemon.Config{
			Interval:   cfg.Daemon.Interval,
			Pairs:      pairs,
			ConfigPath: configPath,
			ReloadPolicy: func() (enginesync.Policy, error) {
				reloaded, err := config.Load(configPath)
				if err != nil {
					return enginesync.Policy{}, err
				}
				return reloaded.EnginePolicy(), nil
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		return d.Start(ctx)
	},
}
