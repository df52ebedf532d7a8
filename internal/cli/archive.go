package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/truenicoco/slidge-sub000/internal/archive"
	"github.com/truenicoco/slidge-sub000/internal/model"
)

// ArchiveQueryOptions holds flags for the archive query command.
type ArchiveQueryOptions struct {
	*RootOptions
	Start    string
	End      string
	BeforeID string
	AfterID  string
	IDs      []string
	With     string
	LastPage int
	Flip     bool
	Max      int
}

// ArchivePageResult is the JSON form of a page.
type ArchivePageResult struct {
	Entries  []model.ArchiveEntry `json:"entries"`
	First    string               `json:"first,omitempty"`
	Last     string               `json:"last,omitempty"`
	Count    int                  `json:"count"`
	Complete bool                 `json:"complete"`
	Stable   bool                 `json:"stable"`
}

// ArchiveMetadataResult is the output of the archive metadata command.
type ArchiveMetadataResult struct {
	Empty bool                `json:"empty"`
	First *model.ArchiveEntry `json:"first,omitempty"`
	Last  *model.ArchiveEntry `json:"last,omitempty"`
}

// ArchivePruneResult is the output of the archive prune command.
type ArchivePruneResult struct {
	Deleted int64  `json:"deleted"`
	MaxDays int    `json:"max_days"`
	Session string `json:"session"`
}

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Query and prune the message archive",
	}
	cmd.AddCommand(newArchiveQueryCommand(rootOpts))
	cmd.AddCommand(newArchiveMetadataCommand(rootOpts))
	cmd.AddCommand(newArchivePruneCommand(rootOpts))
	return cmd
}

func newArchiveQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveQueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <session> <conversation>",
		Short: "Print a page of a conversation's history",
		Long: `Print a window of archived messages, with the same paging rules
protocol clients get: id anchors, time bounds, last page, flip and a
server-side cap on the page size.

Exit codes:
  0 - Page printed
  1 - Anchor or requested id not found
  2 - Command error (bad flags, database cannot be opened)

Examples:
  slidge-core archive query s1 group/room --last-page 20
  slidge-core archive query s1 group/room --after-id 0193... --max 50
  slidge-core archive query s1 group/room --with alice --flip --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveQuery(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "earliest timestamp (RFC 3339)")
	cmd.Flags().StringVar(&opts.End, "end", "", "latest timestamp (RFC 3339)")
	cmd.Flags().StringVar(&opts.BeforeID, "before-id", "", "only entries before this protocol id")
	cmd.Flags().StringVar(&opts.AfterID, "after-id", "", "only entries after this protocol id")
	cmd.Flags().StringSliceVar(&opts.IDs, "ids", nil, "only these protocol ids (all must exist)")
	cmd.Flags().StringVar(&opts.With, "with", "", "only entries from this sender")
	cmd.Flags().IntVar(&opts.LastPage, "last-page", 0, "only the last N entries of the window")
	cmd.Flags().BoolVar(&opts.Flip, "flip", false, "newest entries first")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "page size (0 uses the configured maximum)")

	return cmd
}

func runArchiveQuery(opts *ArchiveQueryOptions, cmd *cobra.Command, sessionID, conversationID string) error {
	q := archive.Query{
		BeforeID: opts.BeforeID,
		AfterID:  opts.AfterID,
		IDs:      opts.IDs,
		Sender:   opts.With,
		LastPage: opts.LastPage,
		Flip:     opts.Flip,
		Max:      opts.Max,
	}
	var err error
	if q.Start, err = parseTimeFlag("start", opts.Start); err != nil {
		return err
	}
	if q.End, err = parseTimeFlag("end", opts.End); err != nil {
		return err
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	arch := archive.New(sessionID, st,
		archive.WithMaxPage(opts.Config.Archive.MaxPage),
		archive.WithLogger(opts.Logger),
	)
	page, err := arch.Query(cmd.Context(), conversationID, q)
	if err != nil {
		return WrapExitError(GetExitCode(err), "archive query failed", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(ArchivePageResult{
			Entries:  page.Entries,
			First:    page.First,
			Last:     page.Last,
			Count:    page.Count,
			Complete: page.Complete,
			Stable:   page.Stable,
		})
	}
	return page.WriteText(cmd.OutOrStdout())
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", name), err)
	}
	return t, nil
}

func newArchiveMetadataCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <session> <conversation>",
		Short: "Print the first and last archived entries of a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			first, last, ok, err := archive.New(args[0], st).Metadata(cmd.Context(), args[1])
			if err != nil {
				return WrapExitError(ExitFailure, "archive metadata failed", err)
			}

			if rootOpts.Format == "json" {
				result := ArchiveMetadataResult{Empty: !ok}
				if ok {
					result.First, result.Last = &first, &last
				}
				return rootOpts.formatter(cmd).Success(result)
			}

			w := cmd.OutOrStdout()
			if !ok {
				_, err := fmt.Fprintln(w, "No archived messages.")
				return err
			}
			fmt.Fprintf(w, "first\t%s\t%s\n", first.ProtocolID, first.Timestamp.UTC().Format(time.RFC3339))
			_, err = fmt.Fprintf(w, "last\t%s\t%s\n", last.ProtocolID, last.Timestamp.UTC().Format(time.RFC3339))
			return err
		},
	}
}

func newArchivePruneCommand(rootOpts *RootOptions) *cobra.Command {
	var maxDays int

	cmd := &cobra.Command{
		Use:   "prune <session>",
		Short: "Delete archived messages older than the retention period",
		Long: `Delete every archived message of a session older than --max-days
(default: archive.max_days from the configuration). Pruning twice in a
row deletes nothing the second time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days := rootOpts.Config.Archive.MaxDays
			if cmd.Flags().Changed("max-days") {
				days = maxDays
			}
			if days <= 0 {
				return NewExitError(ExitCommandError, "retention is disabled: --max-days must be positive")
			}

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			arch := archive.New(args[0], st, archive.WithLogger(rootOpts.Logger))
			n, err := arch.PruneOlderThan(cmd.Context(), "", time.Duration(days)*24*time.Hour)
			if err != nil {
				return WrapExitError(ExitFailure, "archive prune failed", err)
			}

			result := ArchivePruneResult{Deleted: n, MaxDays: days, Session: args[0]}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(result)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %d days.\n", n, days)
			return err
		},
	}
	cmd.Flags().IntVar(&maxDays, "max-days", 0, "retention in days")
	return cmd
}
