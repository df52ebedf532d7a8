package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// SessionResult is one row of the sessions output.
type SessionResult struct {
	SessionID string    `json:"session_id"`
	JID       string    `json:"jid"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.ListSessions(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list sessions", err)
			}
			results := make([]SessionResult, 0, len(ids))
			for _, id := range ids {
				u, err := st.GetUser(cmd.Context(), id)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read user", err)
				}
				results = append(results, SessionResult{SessionID: u.SessionID, JID: u.JID, CreatedAt: u.CreatedAt})
			}

			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(results)
			}
			if len(results) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tJID\tCREATED")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.SessionID, r.JID, r.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
