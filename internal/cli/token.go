package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexconsult/consult-control-plane/internal/auth"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	cmd.Flags().String("role", "", "role claim: client|lawyer")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	cmd.Flags().String("secret", os.Getenv("CONSULT_JWT_SECRET"), "signing secret")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	rawRole, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		return fmt.Errorf("--secret or CONSULT_JWT_SECRET is required")
	}
	role := model.Role(rawRole)
	if role != "" && !role.Valid() {
		return fmt.Errorf("role must be client or lawyer")
	}
	token, err := auth.Issue(secret, args[0], role, ttl)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
