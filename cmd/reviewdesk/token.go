package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reviewdesk/api/internal/auth"
	"reviewdesk/api/internal/config"
	"reviewdesk/api/internal/rbac"
)

// tokenCmd mints a bearer token for local development. Production tokens
// come from the identity service.
func tokenCmd() *cobra.Command {
	var (
		userID string
		name   string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			id := uuid.New()
			if userID != "" {
				id, err = uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			normalized := rbac.Normalize(role)
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.NewClaims(id, name, string(normalized), ttl))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "user %s (%s) role=%s expires in %s\n", id, name, normalized, ttl)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user UUID (random when empty)")
	cmd.Flags().StringVar(&name, "name", "Local Reviewer", "full name carried in the token")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleReviewer), "viewer, reviewer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
