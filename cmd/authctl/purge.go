package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	config "github.com/NordCoder/Gatekeeper/internal/config/janitor"
	"github.com/NordCoder/Gatekeeper/internal/obs"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
	"github.com/NordCoder/Gatekeeper/internal/services/janitor"
)

func newPurgeCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Run one retention sweep with the janitor configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			log, err := obs.NewLogger(cfg.LoggerConfig())
			if err != nil {
				return err
			}
			db, err := pg.New(cmd.Context(), cfg.DB)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			var failed bool
			for _, res := range janitor.NewUC(nil, janitor.PostgresSweeps(db, cfg.Retention, log)...).Tick(cmd.Context()) {
				if res.Err != nil {
					failed = true
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.Name, res.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %d\n", res.Name, res.Deleted)
			}
			if failed {
				return errors.New("purge: some sweeps failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", os.Getenv("CONFIG_PATH"), "janitor config file")
	return cmd
}
