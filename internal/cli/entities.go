package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/truenicoco/slidge-sub000/internal/model"
)

// EntityResult is one row of the entities list output.
type EntityResult struct {
	Kind       model.Kind    `json:"kind"`
	LegacyID   string        `json:"legacy_id"`
	LocalKey   string        `json:"local_key"`
	EnrichedAt time.Time     `json:"enriched_at"`
	Profile    model.Profile `json:"profile"`
}

// NewEntitiesCommand creates the entities command group.
func NewEntitiesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect resolved contacts and groups",
	}
	cmd.AddCommand(newEntitiesListCommand(rootOpts))
	return cmd
}

func newEntitiesListCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list <session>",
		Short: "List the stored entities of a session",
		Long: `List every contact and group stored for a session, ordered by kind
and legacy id. Use --kind to restrict the listing to one kind.

Examples:
  slidge-core entities list s1
  slidge-core entities list s1 --kind group --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []model.Kind{model.KindContact, model.KindGroup}
			if kind != "" {
				k, err := model.ParseKind(kind)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --kind", err)
				}
				kinds = []model.Kind{k}
			}

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			results := []EntityResult{}
			for _, k := range kinds {
				records, err := st.ListEntities(cmd.Context(), args[0], k)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list entities", err)
				}
				for _, rec := range records {
					results = append(results, EntityResult{
						Kind:       rec.Kind,
						LegacyID:   rec.LegacyID,
						LocalKey:   rec.LocalKey,
						EnrichedAt: rec.EnrichedAt,
						Profile:    rec.Profile,
					})
				}
			}
			rootOpts.formatter(cmd).VerboseLog("%d entities in session %s", len(results), args[0])

			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(results)
			}
			if len(results) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No entities.")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tLEGACY ID\tLOCAL KEY\tNAME")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Kind, r.LegacyID, r.LocalKey, r.Profile.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only this kind (contact|group)")
	return cmd
}
