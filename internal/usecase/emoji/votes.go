package emoji

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

var recordableActions = map[domainemoji.AuditAction]struct{}{
	domainemoji.AuditVoteUp:       {},
	domainemoji.AuditVoteDown:     {},
	domainemoji.AuditAdminBlock:   {},
	domainemoji.AuditAdminUnblock: {},
	domainemoji.AuditUserReport:   {},
}

// RecordVote appends a vote, block, unblock or report to the proposal that owns
// the thread and re-evaluates it.
func (s *Service) RecordVote(ctx context.Context, input VoteInput) (VoteResult, error) {
	if err := s.ready(ctx); err != nil {
		return VoteResult{}, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return VoteResult{}, errActorRequired
	}
	if _, ok := recordableActions[input.Action]; !ok {
		return VoteResult{}, fmt.Errorf("%w: %q", domainemoji.ErrInvalidVote, input.Action)
	}
	if isAdminAction(input.Action) && !s.opts.IsAdmin(actor) {
		return VoteResult{}, fmt.Errorf("%w: %s", domainemoji.ErrNotAdmin, input.Action)
	}

	proposal, err := s.repo.GetProposalByThread(ctx, input.Thread)
	if err != nil {
		return VoteResult{}, err
	}

	unlock := s.locks.Lock(proposal.ID)
	defer unlock()
	return s.recordLocked(ctx, proposal.ID, actor, input.Action)
}

func isAdminAction(action domainemoji.AuditAction) bool {
	return action == domainemoji.AuditAdminBlock || action == domainemoji.AuditAdminUnblock
}

func (s *Service) recordLocked(ctx context.Context, proposalID string, actor string, action domainemoji.AuditAction) (VoteResult, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.emoji"))

	var (
		result      VoteResult
		firstReport bool
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		proposal, err := s.repo.GetProposal(txCtx, proposalID)
		if err != nil {
			return err
		}
		if proposal.State != domainemoji.StateNew {
			return fmt.Errorf("%w: proposal %s is %s", domainemoji.ErrInvalidState, proposal.ID, proposal.State)
		}
		result.Proposal = proposal

		result.Entry, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      actor,
			Action:     action,
			ProposalID: proposal.ID,
			Emoji:      proposal.Emoji,
		})
		if err != nil {
			return err
		}

		tally, err := s.tallyOf(txCtx, proposal.ID)
		if err != nil {
			if errors.Is(err, domainemoji.ErrMalformedProposal) {
				logging.Warn(txCtx, "malformed proposal", slog.String("proposal_id", proposal.ID), slog.Any("err", errs.Loggable(err)))
				return nil
			}
			return err
		}
		firstReport = action == domainemoji.AuditUserReport && tally.UserReport == 1

		if action == domainemoji.AuditVoteDown && tally.ShouldAutoReport(s.opts.Rules.DownVoteThreshold) {
			if _, err := s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
				Date:       s.now(),
				Actor:      domainemoji.ActorSystem,
				Action:     domainemoji.AuditSystemReport,
				ProposalID: proposal.ID,
				Emoji:      proposal.Emoji,
			}); err != nil {
				return err
			}
			tally.SystemReport++
			result.AutoReported = true
		}
		result.Tally = tally
		return nil
	}); err != nil {
		return VoteResult{}, err
	}

	ctx = logging.WithProposal(ctx, result.Proposal.ID, result.Proposal.Thread)
	logging.Debug(ctx, "vote recorded", slog.String("action", string(action)), slog.String("actor", actor))

	if result.AutoReported {
		logging.Info(ctx, "proposal auto reported", slog.Int("down", result.Tally.Down))
		s.flagThread(ctx, result.Proposal)
		s.notifyAdmins(ctx, fmt.Sprintf("Auto reporting after %d :%s: votes:\n%s",
			result.Tally.Down, s.opts.Reactions.Down, s.adminLine(result.Proposal, result.Tally)))
	}
	if firstReport {
		s.notifyAdmins(ctx, fmt.Sprintf("<@%s> reported a proposal:\n%s",
			actor, s.adminLine(result.Proposal, result.Tally)))
	}

	eval, err := s.evaluateLocked(ctx, result.Proposal.ID, s.now())
	if err != nil {
		return result, err
	}
	result.Evaluation = eval
	return result, nil
}

// flagThread adds the report reaction once the vote is committed. A failure is
// logged and does not undo the vote.
func (s *Service) flagThread(ctx context.Context, proposal domainemoji.Proposal) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Flag(ctx, s.opts.EmojiChannel, proposal.Thread, s.opts.Reactions.Report); err != nil {
		logging.Warn(ctx, "flag proposal thread failed", slog.String("proposal_id", proposal.ID), slog.Any("err", errs.Loggable(err)))
	}
}

func (s *Service) notifyAdmins(ctx context.Context, text string) {
	if strings.TrimSpace(s.opts.AdminChannel) == "" {
		logging.Info(ctx, "admin notice", slog.String("text", text))
		return
	}
	s.post(ctx, ports.Message{Channel: s.opts.AdminChannel, Text: text})
}

func (s *Service) adminLine(proposal domainemoji.Proposal, tally domainemoji.TallyResult) string {
	status := s.statusOf(proposal, tally, false)
	return status.Line + " id: " + proposal.ID
}

// Withdraw closes the proposal on behalf of its author. It reports whether
// this call withdrew it.
func (s *Service) Withdraw(ctx context.Context, thread string, actor string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return false, errActorRequired
	}

	proposal, err := s.repo.GetProposalByThread(ctx, thread)
	if err != nil {
		return false, err
	}
	ctx = logging.WithProposal(logging.WithAttrs(ctx, slog.String("component", "usecase.emoji")), proposal.ID, proposal.Thread)
	if proposal.User != actor {
		logging.Info(ctx, "withdraw ignored for non-author", slog.String("actor", actor))
		return false, nil
	}

	unlock := s.locks.Lock(proposal.ID)
	defer unlock()

	won := false
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		won, err = s.repo.CompareAndSetState(txCtx, proposal.ID, domainemoji.StateNew, domainemoji.StateWithdrawn)
		if err != nil || !won {
			return err
		}
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      domainemoji.ActorSystem,
			Action:     domainemoji.AuditSystemWithdraw,
			ProposalID: proposal.ID,
			Emoji:      proposal.Emoji,
		})
		return err
	}); err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	logging.Info(ctx, "proposal withdrawn")
	s.opts.Metrics.ProposalTransitioned(string(domainemoji.StateWithdrawn))
	s.post(ctx, ports.Message{
		Channel: s.opts.EmojiChannel,
		Thread:  proposal.Thread,
		Text:    fmt.Sprintf("<@%s> has withdrawn this proposal; it will no longer be considered.", actor),
	})
	return true, nil
}
