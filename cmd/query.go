package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"emojivote/internal/bootstrap"
	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	emojiusecase "emojivote/internal/usecase/emoji"
)

var statusCmd = &cobra.Command{
	Use:   "status <proposal|thread|emoji>",
	Short: "Show the state of a proposal or of an emoji name",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := app.Service.Status(ctx, cmd.Flags().Arg(0))
		if err != nil {
			logging.Error(ctx, "status lookup failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "lookup status")
		}
		return writeStatusReport(cmd.OutOrStdout(), report)
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List open proposals",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		items, err := app.Service.ListOpen(ctx)
		if err != nil {
			logging.Error(ctx, "list proposals failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list proposals")
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			_, err := fmt.Fprintln(out, "no open proposals")
			return err
		}
		for _, item := range items {
			if _, err := fmt.Fprintf(out, "%s id: %s\n", item.Line, item.Proposal.ID); err != nil {
				return errs.Wrap(err, "write list output")
			}
		}
		return nil
	}),
}

var auditCmd = &cobra.Command{
	Use:   "audit <proposal|thread>",
	Short: "Print the audit trail of a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		entries, err := app.Service.AuditTrail(ctx, cmd.Flags().Arg(0))
		if err != nil {
			logging.Error(ctx, "audit trail failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "load audit trail")
		}
		return writeAuditEntries(cmd.OutOrStdout(), entries)
	}),
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently added emoji or recent failures",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")
		errorsOnly, _ := cmd.Flags().GetBool("errors")

		var items []emojiusecase.RecentItem
		var err error
		if errorsOnly {
			items, err = app.Service.RecentErrors(ctx, days, limit)
		} else {
			items, err = app.Service.RecentlyAdded(ctx, days, limit)
		}
		if err != nil {
			logging.Error(ctx, "recent lookup failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list recent")
		}

		out := cmd.OutOrStdout()
		if len(items) == 0 {
			_, err := fmt.Fprintln(out, "nothing recent")
			return err
		}
		for _, item := range items {
			line := fmt.Sprintf("%s :%s: %s", item.Entry.Date.Format("2006-01-02 15:04"), item.Proposal.Emoji, item.Proposal.ID)
			if item.Entry.Note != "" {
				line += " " + item.Entry.Note
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return errs.Wrap(err, "write recent output")
			}
		}
		return nil
	}),
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare the local emoji mirror with the live directory",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := app.Service.Reconcile(ctx)
		if err != nil {
			logging.Error(ctx, "reconcile failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reconcile directory")
		}
		out := cmd.OutOrStdout()
		if _, err := fmt.Fprintf(out, "checked=%d in_sync=%t\n", report.Checked, report.InSync()); err != nil {
			return errs.Wrap(err, "write reconcile output")
		}
		for _, name := range report.MissingRemotely {
			if _, err := fmt.Fprintf(out, "missing remotely: :%s:\n", name); err != nil {
				return errs.Wrap(err, "write reconcile output")
			}
		}
		for _, name := range report.UntrackedRemote {
			if _, err := fmt.Fprintf(out, "untracked remote: :%s:\n", name); err != nil {
				return errs.Wrap(err, "write reconcile output")
			}
		}
		return nil
	}),
}

func writeStatusReport(out io.Writer, report emojiusecase.StatusReport) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if p := report.Proposal; p != nil {
		fmt.Fprintf(tw, "proposal\t%s\n", p.Proposal.ID)
		fmt.Fprintf(tw, "emoji\t:%s:\n", p.Proposal.Emoji)
		fmt.Fprintf(tw, "state\t%s\n", p.Proposal.State)
		fmt.Fprintf(tw, "thread\t%s\n", p.Proposal.Thread)
		fmt.Fprintf(tw, "tally\tup=%d down=%d net=%d\n", p.Tally.Up, p.Tally.Down, p.Tally.Net())
		fmt.Fprintf(tw, "blocked\t%t\n", p.Blocked)
		fmt.Fprintf(tw, "comment period ends\t%s\n", p.CommentEnds.Format(time.RFC3339))
		fmt.Fprintf(tw, "closes\t%s\n", p.ClosesAt.Format(time.RFC3339))
		fmt.Fprintf(tw, "line\t%s\n", p.Line)
	}
	if e := report.Emoji; e != nil {
		kind := string(e.Kind)
		if kind == "" {
			kind = "absent"
		}
		fmt.Fprintf(tw, "emoji\t:%s:\n", e.Name)
		fmt.Fprintf(tw, "directory\t%s\n", kind)
		if e.Mirror != nil {
			fmt.Fprintf(tw, "mirror\tproposal=%s updated=%s\n", e.Mirror.ProposalID, e.Mirror.Updated.Format(time.RFC3339))
		}
		states := make([]string, 0, len(e.ByState))
		for state := range e.ByState {
			states = append(states, string(state))
		}
		sort.Strings(states)
		for _, state := range states {
			ids := make([]string, 0)
			for _, p := range e.ByState[domainemoji.State(state)] {
				ids = append(ids, p.ID)
			}
			fmt.Fprintf(tw, "%s\t%s\n", state, strings.Join(ids, ", "))
		}
		if e.LastEntry != nil {
			fmt.Fprintf(tw, "last\t%s %s by %s\n", e.LastEntry.Date.Format(time.RFC3339), e.LastEntry.Action, e.LastEntry.Actor)
		}
	}
	return tw.Flush()
}

func writeAuditEntries(out io.Writer, entries []domainemoji.AuditEntry) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, entry := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", entry.Seq, entry.Date.Format(time.RFC3339), entry.Action, entry.Actor, entry.Note)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd, auditCmd, recentCmd, reconcileCmd)
	recentCmd.Flags().Int("days", 7, "Look back this many days")
	recentCmd.Flags().Int("limit", 50, "Maximum number of entries")
	recentCmd.Flags().Bool("errors", false, "List system:fail entries instead of additions")
}
