package main

import (
	"fmt"
	"time"

	"github.com/cuemby/tenantcast/pkg/auth"
	"github.com/cuemby/tenantcast/pkg/config"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a client token for local testing",
	Long: `Mint an HS256 token signed with the configured auth.jwtSecret.

The token is meant for development clients; production tokens come from
the identity provider that shares the secret.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		issuer := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil)
		token, err := issuer.Issue(auth.Identity{
			UserID:      args[0],
			DisplayName: name,
			Email:       email,
		}, ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("name", "", "Display name claim")
	tokenCmd.Flags().String("email", "", "Email claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().String("jwt-secret", "", "HMAC secret (defaults to auth.jwtSecret)")
}
