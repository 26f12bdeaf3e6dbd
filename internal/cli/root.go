// Package cli implements consultctl, the operator tool for timer records and
// pricing checks.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "consultctl",
		Short:         "Operator tool for the consultation control plane",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCostCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newTokenCmd())

	root.PersistentFlags().String("backend", envOr("CONSULT_STATE_BACKEND", "redis"), "record backend: redis|sqlite|postgres")
	root.PersistentFlags().String("redis-addr", envOr("CONSULT_REDIS_ADDR", "localhost:6379"), "redis address")
	root.PersistentFlags().String("sqlite-path", envOr("CONSULT_SQLITE_PATH", "consult.db"), "sqlite database file")
	root.PersistentFlags().String("database-url", os.Getenv("CONSULT_DATABASE_URL"), "postgres connection string")

	return root
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
