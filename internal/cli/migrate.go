package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Dialect       string `json:"dialect"`
	SchemaVersion int    `json:"schema_version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Open the database, applying the schema and any pending migration, and
report the resulting schema version. Running it again is harmless.

Examples:
  slidge-core migrate --db ./slidge.db
  slidge-core migrate --db postgres://slidge@localhost/slidge --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			version, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read schema version", err)
			}

			result := MigrateResult{Dialect: st.Dialect().String(), SchemaVersion: version}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(result)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", result.Dialect, result.SchemaVersion)
			return err
		},
	}
}
