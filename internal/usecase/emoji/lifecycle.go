package emoji

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

const (
	acceptedText = "The community has spoken; this emoji will be added shortly. :tada:"
	closedText   = "Voting is now closed."
)

// Sweep evaluates a snapshot of every open proposal. Failures on one proposal
// are logged and counted without stopping the others.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	if err := s.ready(ctx); err != nil {
		return SweepReport{}, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.emoji.sweep"))

	proposals, err := s.repo.ListProposals(ctx, ports.ProposalFilter{States: []domainemoji.State{domainemoji.StateNew}})
	if err != nil {
		return SweepReport{}, err
	}

	var (
		mu     sync.Mutex
		report SweepReport
		group  errgroup.Group
	)
	group.SetLimit(s.opts.SweepParallelism)
	for _, proposal := range proposals {
		group.Go(func() error {
			eval, err := s.Recompute(ctx, proposal.ID, now)

			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			if err != nil {
				report.Errors++
				logging.Error(logging.WithProposal(ctx, proposal.ID, proposal.Thread), "evaluate proposal failed", slog.Any("err", errs.Loggable(err)))
				return nil
			}
			switch {
			case eval.Outcome != nil && !eval.Outcome.Skipped:
				if eval.Outcome.OK() {
					report.Accepted++
				} else {
					report.Failed++
				}
			case eval.Decision == domainemoji.DecisionReject && eval.Transitioned:
				report.Rejected++
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return report, errs.Wrap(err, "sweep proposals")
	}
	s.opts.Metrics.OpenProposals(len(proposals) - report.Accepted - report.Failed - report.Rejected)
	logging.Info(ctx, "sweep finished",
		slog.Int("evaluated", report.Evaluated),
		slog.Int("accepted", report.Accepted),
		slog.Int("rejected", report.Rejected),
		slog.Int("failed", report.Failed),
		slog.Int("errors", report.Errors),
	)
	return report, nil
}

// Recompute runs the transition rule for one proposal at now.
func (s *Service) Recompute(ctx context.Context, proposalID string, now time.Time) (Evaluation, error) {
	if err := s.ready(ctx); err != nil {
		return Evaluation{}, err
	}
	unlock := s.locks.Lock(proposalID)
	defer unlock()
	return s.evaluateLocked(ctx, proposalID, now)
}

func (s *Service) evaluateLocked(ctx context.Context, proposalID string, now time.Time) (Evaluation, error) {
	eval := Evaluation{ProposalID: proposalID}

	proposal, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return eval, err
	}
	ctx = logging.WithProposal(ctx, proposal.ID, proposal.Thread)
	if proposal.State != domainemoji.StateNew {
		return eval, nil
	}

	tally, err := s.tallyOf(ctx, proposal.ID)
	if err != nil {
		if errors.Is(err, domainemoji.ErrMalformedProposal) {
			logging.Warn(ctx, "malformed proposal skipped", slog.Any("err", errs.Loggable(err)))
			return eval, nil
		}
		return eval, err
	}
	eval.Tally = tally
	eval.Decision = domainemoji.Evaluate(proposal.Created, tally, now, s.opts.Rules)
	logging.Debug(ctx, "proposal evaluated", slog.String("decision", eval.Decision.String()), slog.Int("net", tally.Net()))

	switch eval.Decision {
	case domainemoji.DecisionAccept:
		s.post(ctx, ports.Message{Channel: s.opts.EmojiChannel, Thread: proposal.Thread, Text: acceptedText})
		outcome, err := s.applyLocked(ctx, proposal, domainemoji.ActorSystem)
		eval.Outcome = &outcome
		eval.Transitioned = !outcome.Skipped
		return eval, err
	case domainemoji.DecisionReject:
		eval.Transitioned, err = s.rejectLocked(ctx, proposal)
		return eval, err
	default:
		return eval, nil
	}
}

func (s *Service) rejectLocked(ctx context.Context, proposal domainemoji.Proposal) (bool, error) {
	won := false
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		won, err = s.repo.CompareAndSetState(txCtx, proposal.ID, domainemoji.StateNew, domainemoji.StateRejected)
		if err != nil || !won {
			return err
		}
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      domainemoji.ActorSystem,
			Action:     domainemoji.AuditSystemReject,
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

	logging.Info(ctx, "proposal rejected")
	s.opts.Metrics.ProposalTransitioned(string(domainemoji.StateRejected))
	s.post(ctx, ports.Message{Channel: s.opts.EmojiChannel, Thread: proposal.Thread, Text: closedText})
	return true, nil
}
