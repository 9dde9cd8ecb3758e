package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"frameworks/pkg/auth"
	"frameworks/pkg/config"
)

// newTokenCmd implements: bursarctl token --email ops@example.com
func newTokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin JWT for the /admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(strings.ToLower(email))
			if email == "" || !strings.Contains(email, "@") {
				return fmt.Errorf("--email must be an email address")
			}
			secret := config.GetEnv("ADMIN_JWT_SECRET", "")
			if secret == "" {
				return fmt.Errorf("ADMIN_JWT_SECRET is not set")
			}
			token, err := auth.GenerateJWT(uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(), email, auth.RoleAdmin, []byte(secret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "operator email")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
