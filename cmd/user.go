package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/auth"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/config"
	"github.com/senolkacar/ByteNosh-TFE-2025-sub001/internal/lib/logger"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, password, role string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a staff account (username/password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}

			ctx := context.Background()
			b, err := openBackend(ctx, logger.New(cfg.Env, cfg.LogLevel), cfg, true)
			if err != nil {
				return err
			}
			defer b.Close()

			u, err := auth.CreateUser(ctx, b.users, username, password, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %q (id=%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password (8 to 72 characters)")
	c.Flags().StringVar(&role, "role", string(auth.RoleStaff), "staff or admin")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
