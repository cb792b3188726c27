package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/auth/refresh"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
	pg "github.com/NordCoder/Gatekeeper/internal/repository/postgres"
)

var reasons = map[string]auth.RevokeReason{
	string(auth.ReasonAdminRevoked):    auth.ReasonAdminRevoked,
	string(auth.ReasonAccountDisabled): auth.ReasonAccountDisabled,
	string(auth.ReasonPasswordChange):  auth.ReasonPasswordChange,
}

func newRevokeUserCmd() *cobra.Command {
	var (
		dbURL  string
		tenant string
		userID string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Revoke every refresh token of one user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tid, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			why, ok := reasons[reason]
			if !ok {
				return errors.New("--reason must be one of admin_revoked, account_disabled, password_change")
			}
			if dbURL == "" {
				return errors.New("--db-url or DB_URL is required")
			}

			db, err := pg.New(cmd.Context(), pg.Config{URL: dbURL, MaxConns: 2})
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			log := zap.NewNop()
			engine := refresh.NewEngine(pg.NewRefreshTokenRepo(db), pg.NewTransactor(db, log), refresh.Config{}, log)
			n, err := engine.RevokeAllForUser(cmd.Context(), tid, uid, why)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d refresh token(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbURL, "db-url", os.Getenv("DB_URL"), "postgres URL")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&reason, "reason", string(auth.ReasonAdminRevoked), "revocation reason")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
