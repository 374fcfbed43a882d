package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/curlos/statly-backend-sub000/internal/config"
	"github.com/curlos/statly-backend-sub000/internal/provider"
	"github.com/curlos/statly-backend-sub000/internal/store"
	enginesync "github.com/curlos/statly-backend-sub000/internal/sync"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "statlyd",
	Short: "Statly productivity-data sync engine",
	Long: `Statly ingests tasks and focus sessions from external providers
(TickTick, Todoist), reconciles them against the local store, and keeps
the denormalized focus-record snapshots consistent with the task tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "statly.yaml", "path to config file")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(initCmd)
}

// newLogger builds the process logger, teeing to a rotating log file
// when one is configured.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.Path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.Path,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		})
	}
	return log.New(out, prefix, log.LstdFlags)
}

// newRegistry wires the configured provider adapters.
func newRegistry(cfg *config.Config) (*provider.Registry, error) {
	tokens := provider.NewFileTokenProvider(cfg.CredentialsPath)

	registry := provider.NewRegistry()
	if err := registry.Register(provider.NewTickTick(tokens, nil)); err != nil {
		return nil, err
	}
	if err := registry.Register(provider.NewTodoist(tokens, nil)); err != nil {
		return nil, err
	}
	return registry, nil
}

// openStore opens the configured store and ensures its schema exists.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// buildEngine assembles the sync engine from config.
func buildEngine(cfg *config.Config, st *store.Store, events enginesync.EventSink, logger *log.Logger) (*enginesync.Engine, error) {
	registry, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	return enginesync.New(enginesync.Config{
		Store:     st,
		Providers: registry,
		Policy:    cfg.EnginePolicy(),
		Events:    events,
		Logger:    logger,
	})
}
