package emoji

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

// Status describes a proposal, when ref names one, or else the emoji called ref.
func (s *Service) Status(ctx context.Context, ref string) (StatusReport, error) {
	if err := s.ready(ctx); err != nil {
		return StatusReport{}, err
	}
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return StatusReport{}, errProposalRequired
	}

	proposal, err := s.resolveProposal(ctx, trimmed)
	switch {
	case err == nil:
		status, err := s.proposalStatus(ctx, proposal)
		if err != nil {
			return StatusReport{}, err
		}
		return StatusReport{Proposal: &status}, nil
	case !errors.Is(err, domainemoji.ErrProposalNotFound):
		return StatusReport{}, err
	}

	status, err := s.emojiStatus(ctx, domainemoji.StripColons(trimmed))
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Emoji: &status}, nil
}

func (s *Service) emojiStatus(ctx context.Context, name string) (EmojiStatus, error) {
	status := EmojiStatus{Name: name, ByState: map[domainemoji.State][]domainemoji.Proposal{}}

	if s.directory != nil {
		entries, err := s.directory.ListEntries(ctx)
		if err != nil {
			logging.Warn(ctx, "directory unavailable for status", slog.Any("err", errs.Loggable(err)))
		} else {
			status.Kind = entries[name]
		}
	}

	mirror, err := s.repo.GetMirrorEntry(ctx, name)
	switch {
	case err == nil:
		status.Mirror = &mirror
	case !errors.Is(err, domainemoji.ErrEntryNotFound):
		return EmojiStatus{}, err
	}

	proposals, err := s.repo.ListProposals(ctx, ports.ProposalFilter{Emoji: name})
	if err != nil {
		return EmojiStatus{}, err
	}
	for _, proposal := range proposals {
		status.ByState[proposal.State] = append(status.ByState[proposal.State], proposal)

		entries, err := s.repo.ListAudit(ctx, proposal.ID)
		if err != nil {
			return EmojiStatus{}, err
		}
		if len(entries) == 0 {
			continue
		}
		last := entries[len(entries)-1]
		if status.LastEntry == nil || !last.Date.Before(status.LastEntry.Date) {
			status.LastEntry = &last
		}
	}
	return status, nil
}

func (s *Service) proposalStatus(ctx context.Context, proposal domainemoji.Proposal) (ProposalStatus, error) {
	tally, err := s.tallyOf(ctx, proposal.ID)
	malformed := false
	if err != nil {
		if !errors.Is(err, domainemoji.ErrMalformedProposal) {
			return ProposalStatus{}, err
		}
		logging.Warn(logging.WithProposal(ctx, proposal.ID, proposal.Thread), "malformed proposal", slog.Any("err", errs.Loggable(err)))
		malformed = true
	}
	return s.statusOf(proposal, tally, malformed), nil
}

func (s *Service) statusOf(proposal domainemoji.Proposal, tally domainemoji.TallyResult, malformed bool) ProposalStatus {
	rules := s.opts.Rules
	now := s.now()
	status := ProposalStatus{
		Proposal:        proposal,
		Tally:           tally,
		Malformed:       malformed,
		Blocked:         tally.Blocked(),
		InCommentPeriod: rules.InCommentPeriod(proposal.Created, now),
		Passing:         tally.Wins(rules.WinBy),
		CommentEnds:     rules.CommentPeriodEnds(proposal.Created),
		ClosesAt:        rules.VotingCloses(proposal.Created),
	}
	status.Line = s.statusLine(status)
	return status
}

// ListOpen returns every proposal that is still being voted on, oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]ProposalStatus, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	proposals, err := s.repo.ListProposals(ctx, ports.ProposalFilter{States: []domainemoji.State{domainemoji.StateNew}})
	if err != nil {
		return nil, err
	}
	items := make([]ProposalStatus, 0, len(proposals))
	for _, proposal := range proposals {
		status, err := s.proposalStatus(ctx, proposal)
		if err != nil {
			return nil, err
		}
		items = append(items, status)
	}
	s.opts.Metrics.OpenProposals(len(items))
	return items, nil
}

// RecentlyAdded lists successful uploads of the last days, newest first.
func (s *Service) RecentlyAdded(ctx context.Context, days int, limit int) ([]RecentItem, error) {
	return s.recent(ctx, domainemoji.AuditSystemUpload, days, limit)
}

// RecentErrors lists failed applications of the last days, newest first.
func (s *Service) RecentErrors(ctx context.Context, days int, limit int) ([]RecentItem, error) {
	return s.recent(ctx, domainemoji.AuditSystemFail, days, limit)
}

func (s *Service) recent(ctx context.Context, action domainemoji.AuditAction, days int, limit int) ([]RecentItem, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}
	entries, err := s.repo.ListAuditByAction(ctx, ports.AuditQuery{
		Actions: []domainemoji.AuditAction{action},
		Since:   s.now().Add(-time.Duration(days) * 24 * time.Hour),
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]RecentItem, 0, len(entries))
	for _, entry := range entries {
		proposal, err := s.repo.GetProposal(ctx, entry.ProposalID)
		if err != nil {
			if errors.Is(err, domainemoji.ErrProposalNotFound) {
				continue
			}
			return nil, err
		}
		items = append(items, RecentItem{Entry: entry, Proposal: proposal})
	}
	return items, nil
}

// AuditTrail returns the ordered audit entries of a proposal.
func (s *Service) AuditTrail(ctx context.Context, ref string) ([]domainemoji.AuditEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	proposal, err := s.resolveProposal(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, proposal.ID)
}

// Reconcile compares the local mirror with the directory. It never writes.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	if err := s.ready(ctx); err != nil {
		return ReconcileReport{}, err
	}
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.emoji.reconcile"))

	mirror, err := s.repo.ListMirror(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	remote, err := s.listEntries(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Checked: len(mirror)}
	local := make(map[string]struct{}, len(mirror))
	for _, entry := range mirror {
		local[entry.Name] = struct{}{}
		if _, ok := remote[entry.Name]; !ok {
			report.MissingRemotely = append(report.MissingRemotely, entry.Name)
		}
	}
	for name, kind := range remote {
		if kind == domainemoji.EntryBuiltIn {
			continue
		}
		if _, ok := local[name]; !ok {
			report.UntrackedRemote = append(report.UntrackedRemote, name)
		}
	}
	sort.Strings(report.MissingRemotely)
	sort.Strings(report.UntrackedRemote)

	if report.InSync() {
		logging.Info(ctx, "mirror in sync", slog.Int("checked", report.Checked))
	} else {
		logging.Warn(ctx, "mirror drift",
			slog.Int("checked", report.Checked),
			slog.Any("missing_remotely", report.MissingRemotely),
			slog.Any("untracked_remote", report.UntrackedRemote),
		)
	}
	return report, nil
}
