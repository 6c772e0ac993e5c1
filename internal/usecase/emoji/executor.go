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

// externalError marks a failure reported by the directory. Only these turn a
// proposal into failed; store errors roll the whole unit of work back.
type externalError struct {
	err error
}

func (e *externalError) Error() string { return e.err.Error() }
func (e *externalError) Unwrap() error { return e.err }

// ApplyOutcome applies an accepted proposal to the directory exactly once.
// Callers that lose the new->accepted race get a skipped result.
func (s *Service) ApplyOutcome(ctx context.Context, proposalID string, actor string) (ActionResult, error) {
	if err := s.ready(ctx); err != nil {
		return ActionResult{}, err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = domainemoji.ActorSystem
	}

	unlock := s.locks.Lock(proposalID)
	defer unlock()

	proposal, err := s.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return ActionResult{}, err
	}
	return s.applyLocked(logging.WithProposal(ctx, proposal.ID, proposal.Thread), proposal, actor)
}

func (s *Service) applyLocked(ctx context.Context, proposal domainemoji.Proposal, actor string) (ActionResult, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.emoji.executor"))
	result := ActionResult{ProposalID: proposal.ID, State: proposal.State}
	if proposal.State != domainemoji.StateNew {
		result.Skipped = true
		return result, nil
	}
	if s.directory == nil {
		return result, errors.New("directory gateway is required")
	}

	op, err := domainemoji.PlanOperation(proposal)
	if err != nil {
		failed, ferr := s.failBeforeApply(ctx, proposal, err, &result)
		if ferr != nil {
			return result, ferr
		}
		if !failed {
			return result, nil
		}
		return result, err
	}
	result.Operation = operationName(op)

	entries, err := s.directory.ListEntries(ctx)
	if err != nil {
		_, ferr := s.failBeforeApply(ctx, proposal, err, &result)
		return result, ferr
	}
	if err := domainemoji.CheckNotBuiltIn(op.Target(), entries); err != nil {
		_, ferr := s.failBeforeApply(ctx, proposal, err, &result)
		return result, ferr
	}

	var (
		external error
		replaced bool
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		won, err := s.repo.CompareAndSetState(txCtx, proposal.ID, domainemoji.StateNew, domainemoji.StateAccepted)
		if err != nil {
			return err
		}
		if !won {
			result.Skipped = true
			return nil
		}

		err = s.uow.WithTx(txCtx, func(spCtx context.Context) error {
			return s.execute(spCtx, proposal, op, actor, entries, &replaced)
		})
		if err == nil {
			return nil
		}
		var ext *externalError
		if !errors.As(err, &ext) {
			return err
		}
		external = ext.err

		if replaced {
			if err := s.recordRemoval(txCtx, proposal, actor, "replaced"); err != nil {
				return err
			}
		}
		won, err = s.repo.CompareAndSetState(txCtx, proposal.ID, domainemoji.StateAccepted, domainemoji.StateFailed)
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("proposal %s changed state while applying", proposal.ID)
		}
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      domainemoji.ActorSystem,
			Action:     domainemoji.AuditSystemFail,
			ProposalID: proposal.ID,
			Emoji:      proposal.Emoji,
			Note:       errs.Note(external, noteLimit),
		})
		return err
	}); err != nil {
		return result, err
	}

	if result.Skipped {
		logging.Info(ctx, "apply skipped, proposal already claimed")
		return result, nil
	}
	if external != nil {
		result.State = domainemoji.StateFailed
		result.Note = errs.Note(external, noteLimit)
		s.announceFailure(ctx, proposal, result.Note, external)
		return result, nil
	}

	result.State = domainemoji.StateAccepted
	logging.Info(ctx, "proposal applied", slog.String("operation", result.Operation), slog.String("actor", actor))
	s.opts.Metrics.ProposalTransitioned(string(domainemoji.StateAccepted))
	s.post(ctx, ports.Message{
		Channel:   s.opts.EmojiChannel,
		Thread:    proposal.Thread,
		Text:      fmt.Sprintf("%s has been %s.", displayName(proposal), pastTense(proposal)),
		Broadcast: true,
	})
	return result, nil
}

// execute runs inside a savepoint. Every local write is undone when the
// directory call fails.
func (s *Service) execute(
	ctx context.Context,
	proposal domainemoji.Proposal,
	op domainemoji.Operation,
	actor string,
	entries map[string]domainemoji.EntryKind,
	replaced *bool,
) error {
	name := op.Target()

	switch typed := op.(type) {
	case domainemoji.AddNew, domainemoji.AddAlias:
		tracked := true
		if _, err := s.repo.GetMirrorEntry(ctx, name); err != nil {
			if !errors.Is(err, domainemoji.ErrEntryNotFound) {
				return err
			}
			tracked = false
		}
		if _, live := entries[name]; live || tracked {
			if err := s.removeRemote(ctx, name); err != nil {
				return err
			}
			*replaced = true
			if err := s.recordRemoval(ctx, proposal, actor, "replaced"); err != nil {
				return err
			}
		}

		mirror := domainemoji.MirrorEntry{
			Name:       name,
			FileRef:    proposal.FileRef,
			Alias:      proposal.Alias,
			Canonical:  proposal.Canonical,
			Updated:    s.now(),
			ProposalID: proposal.ID,
		}
		if err := s.repo.UpsertMirrorEntry(ctx, mirror); err != nil {
			return err
		}
		if err := s.appendSuccess(ctx, proposal, op, actor, ""); err != nil {
			return err
		}

		if add, ok := typed.(domainemoji.AddNew); ok {
			if s.content == nil {
				return errors.New("content store is required")
			}
			image, err := s.content.Get(ctx, add.FileRef)
			if err != nil {
				if errors.Is(err, domainemoji.ErrImageNotFound) {
					return &externalError{err: err}
				}
				return err
			}
			if err := s.directory.AddEntry(ctx, name, image); err != nil {
				return &externalError{err: err}
			}
			return nil
		}
		alias := typed.(domainemoji.AddAlias)
		if err := s.directory.AddAlias(ctx, name, alias.Canonical); err != nil {
			return &externalError{err: err}
		}
		return nil
	case domainemoji.Remove:
		if err := s.repo.DeleteMirrorEntry(ctx, name); err != nil {
			return err
		}
		if err := s.appendSuccess(ctx, proposal, op, actor, ""); err != nil {
			return err
		}
		return s.removeRemote(ctx, name)
	default:
		return fmt.Errorf("%w: %T", domainemoji.ErrInvalidOperation, op)
	}
}

// removeRemote treats an already missing entry as removed.
func (s *Service) removeRemote(ctx context.Context, name string) error {
	if err := s.directory.RemoveEntry(ctx, name); err != nil {
		if errors.Is(err, domainemoji.ErrEntryNotFound) {
			logging.Info(ctx, "entry already absent", slog.String("emoji", name))
			return nil
		}
		return &externalError{err: err}
	}
	return nil
}

func (s *Service) recordRemoval(ctx context.Context, proposal domainemoji.Proposal, actor string, note string) error {
	if err := s.repo.DeleteMirrorEntry(ctx, proposal.Emoji); err != nil {
		return err
	}
	_, err := s.repo.AppendAudit(ctx, domainemoji.AuditEntry{
		Date:       s.now(),
		Actor:      actor,
		Action:     domainemoji.AuditSystemDelete,
		ProposalID: proposal.ID,
		Emoji:      proposal.Emoji,
		Note:       note,
	})
	return err
}

func (s *Service) appendSuccess(ctx context.Context, proposal domainemoji.Proposal, op domainemoji.Operation, actor string, note string) error {
	_, err := s.repo.AppendAudit(ctx, domainemoji.AuditEntry{
		Date:       s.now(),
		Actor:      actor,
		Action:     domainemoji.SuccessAudit(op),
		ProposalID: proposal.ID,
		Emoji:      proposal.Emoji,
		Note:       note,
	})
	return err
}

// failBeforeApply closes a proposal that cannot reach the directory. It reports
// whether this call moved the proposal to failed.
func (s *Service) failBeforeApply(ctx context.Context, proposal domainemoji.Proposal, cause error, result *ActionResult) (bool, error) {
	note, ok := domainemoji.UserMessage(cause)
	if !ok {
		note = errs.Note(cause, noteLimit)
	}

	won := false
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		won, err = s.repo.CompareAndSetState(txCtx, proposal.ID, domainemoji.StateNew, domainemoji.StateFailed)
		if err != nil || !won {
			return err
		}
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       s.now(),
			Actor:      domainemoji.ActorSystem,
			Action:     domainemoji.AuditSystemFail,
			ProposalID: proposal.ID,
			Emoji:      proposal.Emoji,
			Note:       note,
		})
		return err
	}); err != nil {
		return false, err
	}
	if !won {
		result.Skipped = true
		return false, nil
	}

	result.State = domainemoji.StateFailed
	result.Note = note
	s.announceFailure(ctx, proposal, note, cause)
	return true, nil
}

func (s *Service) announceFailure(ctx context.Context, proposal domainemoji.Proposal, note string, cause error) {
	logging.Error(ctx, "proposal failed", slog.Any("err", errs.Loggable(cause)))
	s.opts.Metrics.ProposalTransitioned(string(domainemoji.StateFailed))
	s.post(ctx, ports.Message{
		Channel: s.opts.EmojiChannel,
		Thread:  proposal.Thread,
		Text: fmt.Sprintf("Oh no! Something went wrong. Please have an admin look into this.\nProposal id %s\nError: `%s`",
			proposal.ID, note),
	})
}

func operationName(op domainemoji.Operation) string {
	switch op.(type) {
	case domainemoji.AddNew:
		return "add"
	case domainemoji.AddAlias:
		return "alias"
	case domainemoji.Remove:
		return "remove"
	default:
		return "unknown"
	}
}
