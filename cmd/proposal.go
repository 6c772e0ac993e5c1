package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"emojivote/internal/bootstrap"
	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	emojiusecase "emojivote/internal/usecase/emoji"
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Open a proposal to add, alias or remove an emoji",
}

var proposeEmojiCmd = &cobra.Command{
	Use:   "emoji <image-file>",
	Short: "Propose a new custom emoji from an image file",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		path := cmd.Flags().Arg(0)
		data, err := os.ReadFile(path)
		if err != nil {
			return errs.Wrapf(err, "read image %q", path)
		}
		actor, _ := cmd.Flags().GetString("actor")
		comment, _ := cmd.Flags().GetString("comment")
		thread, _ := cmd.Flags().GetString("thread")

		result, err := app.Service.ProposeEmoji(ctx, emojiusecase.ProposeEmojiInput{
			Requester:   actor,
			FileName:    filepath.Base(path),
			ContentType: http.DetectContentType(data),
			Data:        data,
			Comment:     comment,
			Thread:      thread,
		})
		if err != nil {
			logging.Error(ctx, "propose emoji failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "propose emoji")
		}
		return writeProposeResult(cmd, result)
	}),
}

var proposeAliasCmd = &cobra.Command{
	Use:   "alias <alias> <canonical>",
	Short: "Propose an alias for an existing emoji",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		thread, _ := cmd.Flags().GetString("thread")
		result, err := app.Service.ProposeAlias(ctx, emojiusecase.ProposeAliasInput{
			Requester: actor,
			Alias:     cmd.Flags().Arg(0),
			Canonical: cmd.Flags().Arg(1),
			Thread:    thread,
		})
		if err != nil {
			logging.Error(ctx, "propose alias failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "propose alias")
		}
		return writeProposeResult(cmd, result)
	}),
}

var proposeRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Propose removing a custom emoji or alias",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		thread, _ := cmd.Flags().GetString("thread")
		result, err := app.Service.ProposeRemoval(ctx, emojiusecase.ProposeRemovalInput{
			Requester: actor,
			Name:      cmd.Flags().Arg(0),
			Thread:    thread,
		})
		if err != nil {
			logging.Error(ctx, "propose removal failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "propose removal")
		}
		return writeProposeResult(cmd, result)
	}),
}

var voteCmd = &cobra.Command{
	Use:   "vote <thread>",
	Short: "Record a vote, report, block or unblock on a proposal thread",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		kind, _ := cmd.Flags().GetString("kind")
		action, err := cliVoteAction(kind)
		if err != nil {
			return err
		}

		result, err := app.Service.RecordVote(ctx, emojiusecase.VoteInput{
			Thread: cmd.Flags().Arg(0),
			Actor:  actor,
			Action: action,
		})
		if err != nil {
			logging.Error(ctx, "record vote failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "record vote")
		}

		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"recorded %s on %s: up=%d down=%d net=%d state=%s\n",
			action, result.Proposal.ID, result.Tally.Up, result.Tally.Down, result.Tally.Net(), evaluatedState(result),
		); err != nil {
			return errs.Wrap(err, "write vote output")
		}
		return nil
	}),
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <thread>",
	Short: "Withdraw your own open proposal",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		withdrawn, err := app.Service.Withdraw(ctx, cmd.Flags().Arg(0), actor)
		if err != nil {
			logging.Error(ctx, "withdraw proposal failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "withdraw proposal")
		}
		message := "proposal withdrawn"
		if !withdrawn {
			message = "not withdrawn: only the author can withdraw a proposal"
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), message); err != nil {
			return errs.Wrap(err, "write withdraw output")
		}
		return nil
	}),
}

var forceCmd = &cobra.Command{
	Use:   "force <proposal>",
	Short: "Accept a proposal immediately and apply it (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		result, err := app.Service.Force(ctx, cmd.Flags().Arg(0), actor)
		if err != nil {
			logging.Error(ctx, "force proposal failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "force proposal")
		}
		return writeActionResult(cmd, result)
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset <proposal> <state>",
	Short: "Overwrite the state of a proposal (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		actor, _ := cmd.Flags().GetString("actor")
		proposal, err := app.Service.Reset(ctx, emojiusecase.ResetInput{
			Actor:       actor,
			ProposalRef: cmd.Flags().Arg(0),
			State:       cmd.Flags().Arg(1),
		})
		if err != nil {
			logging.Error(ctx, "reset proposal failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reset proposal")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "proposal %s is now %s\n", proposal.ID, proposal.State); err != nil {
			return errs.Wrap(err, "write reset output")
		}
		return nil
	}),
}

var tallyCmd = &cobra.Command{
	Use:   "tally",
	Short: "Evaluate every open proposal once",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := app.Scheduler.RunOnce(ctx)
		if err != nil {
			logging.Error(ctx, "tally failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "tally proposals")
		}
		if _, err := fmt.Fprintf(
			cmd.OutOrStdout(),
			"evaluated=%d accepted=%d rejected=%d failed=%d errors=%d\n",
			report.Evaluated, report.Accepted, report.Rejected, report.Failed, report.Errors,
		); err != nil {
			return errs.Wrap(err, "write tally output")
		}
		return nil
	}),
}

func cliVoteAction(kind string) (domainemoji.AuditAction, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "up", "":
		return domainemoji.AuditVoteUp, nil
	case "down":
		return domainemoji.AuditVoteDown, nil
	case "report":
		return domainemoji.AuditUserReport, nil
	case "block":
		return domainemoji.AuditAdminBlock, nil
	case "unblock":
		return domainemoji.AuditAdminUnblock, nil
	default:
		return "", fmt.Errorf("unsupported vote kind %q (up|down|report|block|unblock)", kind)
	}
}

func evaluatedState(result emojiusecase.VoteResult) string {
	if outcome := result.Evaluation.Outcome; outcome != nil {
		return string(outcome.State)
	}
	if result.Evaluation.Transitioned {
		return string(domainemoji.StateRejected)
	}
	return string(result.Proposal.State)
}

func writeProposeResult(cmd *cobra.Command, result emojiusecase.ProposeResult) error {
	p := result.Proposal
	line := fmt.Sprintf("opened proposal %s for :%s: thread=%s", p.ID, p.Emoji, p.Thread)
	if result.Replacement {
		line += " (replaces existing)"
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
		return errs.Wrap(err, "write propose output")
	}
	return nil
}

func writeActionResult(cmd *cobra.Command, result emojiusecase.ActionResult) error {
	line := fmt.Sprintf("proposal %s %s: %s", result.ProposalID, result.Operation, result.State)
	if result.Skipped {
		line = fmt.Sprintf("proposal %s already handled by another caller", result.ProposalID)
	}
	if result.Note != "" {
		line += " note=" + result.Note
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
		return errs.Wrap(err, "write action output")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(proposeCmd, voteCmd, withdrawCmd, forceCmd, resetCmd, tallyCmd)
	proposeCmd.AddCommand(proposeEmojiCmd, proposeAliasCmd, proposeRemoveCmd)

	for _, command := range []*cobra.Command{proposeEmojiCmd, proposeAliasCmd, proposeRemoveCmd} {
		command.Flags().String("actor", "", "Chat user id of the requester")
		command.Flags().String("thread", "", "Existing thread to attach the proposal to (default: post a new message)")
		_ = command.MarkFlagRequired("actor")
	}
	proposeEmojiCmd.Flags().String("comment", "", "Optional context shown with the proposal")

	for _, command := range []*cobra.Command{voteCmd, withdrawCmd, forceCmd, resetCmd} {
		command.Flags().String("actor", "", "Chat user id performing the action")
		_ = command.MarkFlagRequired("actor")
	}
	voteCmd.Flags().String("kind", "up", "Vote kind (up|down|report|block|unblock)")
}
