package emoji

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/ports"
)

const forceText = "An admin is forcing this proposal through right away. One moment, please."

func (s *Service) requireAdmin(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", errActorRequired
	}
	if !s.opts.IsAdmin(actor) {
		return "", fmt.Errorf("%w: %s", domainemoji.ErrNotAdmin, actor)
	}
	return actor, nil
}

// Force skips the vote and applies the proposal on behalf of an admin.
func (s *Service) Force(ctx context.Context, ref string, actor string) (ActionResult, error) {
	if err := s.ready(ctx); err != nil {
		return ActionResult{}, err
	}
	actor, err := s.requireAdmin(actor)
	if err != nil {
		return ActionResult{}, err
	}
	proposal, err := s.resolveProposal(ctx, ref)
	if err != nil {
		return ActionResult{}, err
	}
	ctx = logging.WithProposal(logging.WithAttrs(ctx, slog.String("component", "usecase.emoji.admin")), proposal.ID, proposal.Thread)

	unlock := s.locks.Lock(proposal.ID)
	defer unlock()

	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetProposal(txCtx, proposal.ID)
		if err != nil {
			return err
		}
		if current.State != domainemoji.StateNew {
			return fmt.Errorf("%w: proposal %s is %s", domainemoji.ErrInvalidState, current.ID, current.State)
		}
		proposal = current
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      actor,
			Action:     domainemoji.AuditAdminForce,
			ProposalID: proposal.ID,
			Emoji:      proposal.Emoji,
		})
		return err
	}); err != nil {
		return ActionResult{}, err
	}

	logging.Info(ctx, "proposal forced", slog.String("actor", actor))
	s.post(ctx, ports.Message{Channel: s.opts.EmojiChannel, Thread: proposal.Thread, Text: forceText})
	return s.applyLocked(ctx, proposal, actor)
}

// Reset overwrites the state of a proposal. It is the only transition that may
// leave a terminal state.
func (s *Service) Reset(ctx context.Context, input ResetInput) (domainemoji.Proposal, error) {
	if err := s.ready(ctx); err != nil {
		return domainemoji.Proposal{}, err
	}
	actor, err := s.requireAdmin(input.Actor)
	if err != nil {
		return domainemoji.Proposal{}, err
	}
	target, err := domainemoji.ParseState(input.State)
	if err != nil {
		return domainemoji.Proposal{}, err
	}
	proposal, err := s.resolveProposal(ctx, input.ProposalRef)
	if err != nil {
		return domainemoji.Proposal{}, err
	}
	ctx = logging.WithProposal(logging.WithAttrs(ctx, slog.String("component", "usecase.emoji.admin")), proposal.ID, proposal.Thread)

	unlock := s.locks.Lock(proposal.ID)
	defer unlock()

	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		current, err := s.repo.GetProposal(txCtx, proposal.ID)
		if err != nil {
			return err
		}
		if err := s.repo.ForceState(txCtx, current.ID, target); err != nil {
			return err
		}
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      actor,
			Action:     domainemoji.AuditAdminReset,
			ProposalID: current.ID,
			Emoji:      current.Emoji,
			Note:       fmt.Sprintf("state: %s -> %s", current.State, target),
		})
		proposal = current
		return err
	}); err != nil {
		return domainemoji.Proposal{}, err
	}

	logging.Info(ctx, "proposal reset", slog.String("from", string(proposal.State)), slog.String("to", string(target)))
	proposal.State = target
	return proposal, nil
}

// FakeVote records a vote, block or unblock on behalf of an admin.
func (s *Service) FakeVote(ctx context.Context, input FakeVoteInput) (VoteResult, error) {
	if err := s.ready(ctx); err != nil {
		return VoteResult{}, err
	}
	actor, err := s.requireAdmin(input.Actor)
	if err != nil {
		return VoteResult{}, err
	}

	var action domainemoji.AuditAction
	switch strings.ToLower(strings.TrimSpace(input.Vote)) {
	case "up":
		action = domainemoji.AuditVoteUp
	case "down":
		action = domainemoji.AuditVoteDown
	case "block":
		action = domainemoji.AuditAdminBlock
	case "unblock":
		action = domainemoji.AuditAdminUnblock
	default:
		return VoteResult{}, fmt.Errorf("%w: %q", domainemoji.ErrInvalidVote, input.Vote)
	}

	proposal, err := s.resolveProposal(ctx, input.ProposalRef)
	if err != nil {
		return VoteResult{}, err
	}
	unlock := s.locks.Lock(proposal.ID)
	defer unlock()
	return s.recordLocked(ctx, proposal.ID, actor, action)
}
