package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/truenicoco/slidge-sub000/internal/correlate"
	"github.com/truenicoco/slidge-sub000/internal/model"
)

// CorrelationResult is the output of the correlations show command.
type CorrelationResult struct {
	ConversationID string   `json:"conversation_id"`
	LegacyID       string   `json:"legacy_id"`
	Primary        string   `json:"primary"`
	Echoes         []string `json:"echoes"`
}

// NewCorrelationsCommand creates the correlations command group.
func NewCorrelationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correlations",
		Short: "Inspect legacy to protocol message id mappings",
	}
	cmd.AddCommand(newCorrelationsShowCommand(rootOpts))
	return cmd
}

func newCorrelationsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session> <conversation> <legacy-id>",
		Short: "Show the protocol ids recorded for a legacy message",
		Long: `Show the primary protocol id recorded for a legacy message id and
every echo id that also maps back to it.

Exit codes:
  0 - Mapping found
  1 - No mapping for this legacy id
  2 - Command error

Examples:
  slidge-core correlations show s1 group/room 1712
  slidge-core correlations show s1 contact/alice 99 --format json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, conversationID, legacyID := args[0], args[1], args[2]

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			corr, err := correlate.New(sessionID, st, correlate.WithLogger(rootOpts.Logger))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to create correlator", err)
			}
			primary, ok, err := corr.LookupProtocol(cmd.Context(), conversationID, legacyID)
			if err != nil {
				return WrapExitError(GetExitCode(err), "correlation lookup failed", err)
			}
			if !ok {
				return WrapExitError(ExitFailure, "no correlation recorded",
					model.NewNotFoundError(fmt.Sprintf("legacy id %q has no protocol id", legacyID), legacyID))
			}
			echoes, err := corr.GetEchoes(cmd.Context(), conversationID, legacyID)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list echoes", err)
			}

			result := CorrelationResult{
				ConversationID: conversationID,
				LegacyID:       legacyID,
				Primary:        primary,
				Echoes:         echoes,
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(result)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "primary\t%s\n", primary)
			for _, e := range echoes {
				fmt.Fprintf(w, "echo\t%s\n", e)
			}
			return nil
		},
	}
}
