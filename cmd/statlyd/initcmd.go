package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curlos/statly-backend-sub000/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the store and its schema",
	Long: `Create the store database at the configured path and initialize its
schema. Idempotent - safe to run against an existing store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Printf("Store initialized at %s\n", cfg.StorePath)
		return nil
	},
}
