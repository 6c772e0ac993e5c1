package emoji

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

// ProposeEmoji opens a proposal to upload a new image. The emoji name is the
// file name without its extension.
func (s *Service) ProposeEmoji(ctx context.Context, input ProposeEmojiInput) (ProposeResult, error) {
	if err := s.ready(ctx); err != nil {
		return ProposeResult{}, err
	}
	requester := strings.TrimSpace(input.Requester)
	if requester == "" {
		return ProposeResult{}, errActorRequired
	}
	if s.content == nil {
		return ProposeResult{}, errors.New("content store is required")
	}

	name, ext := domainemoji.NameFromFile(input.FileName)
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "image/" + ext
	}
	if err := domainemoji.ValidateImageType(contentType); err != nil {
		return ProposeResult{}, err
	}
	if err := domainemoji.ValidateName(name); err != nil {
		return ProposeResult{}, err
	}

	entries, err := s.listEntries(ctx)
	if err != nil {
		return ProposeResult{}, err
	}
	if err := domainemoji.CheckNotBuiltIn(name, entries); err != nil {
		return ProposeResult{}, err
	}
	_, replacement := entries[name]

	ref, err := s.content.Put(ctx, domainemoji.Image{ContentType: contentType, Data: input.Data})
	if err != nil {
		return ProposeResult{}, errs.Wrap(err, "store proposal image")
	}

	proposal := domainemoji.Proposal{
		Action:     domainemoji.ActionAdd,
		Emoji:      name,
		FileRef:    ref,
		Thread:     strings.TrimSpace(input.Thread),
		Permalink:  strings.TrimSpace(input.Permalink),
		User:       requester,
		PreviewRef: ref,
	}
	return s.openProposal(ctx, proposal, replacement, input.Comment)
}

// ProposeAlias opens a proposal for a second name of a live emoji.
func (s *Service) ProposeAlias(ctx context.Context, input ProposeAliasInput) (ProposeResult, error) {
	if err := s.ready(ctx); err != nil {
		return ProposeResult{}, err
	}
	requester := strings.TrimSpace(input.Requester)
	if requester == "" {
		return ProposeResult{}, errActorRequired
	}

	alias := domainemoji.StripColons(input.Alias)
	canonical := domainemoji.StripColons(input.Canonical)
	if err := domainemoji.ValidateName(alias); err != nil {
		return ProposeResult{}, err
	}

	entries, err := s.listEntries(ctx)
	if err != nil {
		return ProposeResult{}, err
	}
	if err := domainemoji.CheckLive(canonical, entries); err != nil {
		return ProposeResult{}, err
	}
	if err := domainemoji.CheckNotBuiltIn(alias, entries); err != nil {
		return ProposeResult{}, err
	}
	_, replacement := entries[alias]

	proposal := domainemoji.Proposal{
		Action:    domainemoji.ActionAdd,
		Emoji:     alias,
		Alias:     true,
		Canonical: canonical,
		Thread:    strings.TrimSpace(input.Thread),
		Permalink: strings.TrimSpace(input.Permalink),
		User:      requester,
	}
	return s.openProposal(ctx, proposal, replacement, "")
}

// ProposeRemoval opens a proposal to delete a live custom emoji or alias.
func (s *Service) ProposeRemoval(ctx context.Context, input ProposeRemovalInput) (ProposeResult, error) {
	if err := s.ready(ctx); err != nil {
		return ProposeResult{}, err
	}
	requester := strings.TrimSpace(input.Requester)
	if requester == "" {
		return ProposeResult{}, errActorRequired
	}

	name := domainemoji.StripColons(input.Name)
	entries, err := s.listEntries(ctx)
	if err != nil {
		return ProposeResult{}, err
	}
	if err := domainemoji.CheckLive(name, entries); err != nil {
		return ProposeResult{}, err
	}
	if err := domainemoji.CheckNotBuiltIn(name, entries); err != nil {
		return ProposeResult{}, err
	}

	proposal := domainemoji.Proposal{
		Action:    domainemoji.ActionRemove,
		Emoji:     name,
		Thread:    strings.TrimSpace(input.Thread),
		Permalink: strings.TrimSpace(input.Permalink),
		User:      requester,
	}
	if mirror, err := s.repo.GetMirrorEntry(ctx, name); err == nil {
		proposal.PreviewRef = mirror.FileRef
	} else if !errors.Is(err, domainemoji.ErrEntryNotFound) {
		return ProposeResult{}, err
	}
	return s.openProposal(ctx, proposal, false, "")
}

func (s *Service) openProposal(ctx context.Context, proposal domainemoji.Proposal, replacement bool, comment string) (ProposeResult, error) {
	ctx = logging.WithAttrs(ctx, slog.String("component", "usecase.emoji"), slog.String("emoji", proposal.Emoji))

	intro := introText(proposal, replacement, comment)
	introPosted := proposal.Thread == ""
	if introPosted {
		if s.notifier == nil {
			return ProposeResult{}, errors.New("notifier is required to open a thread")
		}
		ts, err := s.notifier.Post(ctx, ports.Message{Channel: s.opts.EmojiChannel, Text: intro})
		if err != nil {
			return ProposeResult{}, errs.Wrap(err, "post proposal")
		}
		proposal.Thread = ts
	}
	proposal.State = domainemoji.StateNew
	proposal.Created = s.now()

	anchor := domainemoji.AuditProposeNew
	if proposal.Action == domainemoji.ActionRemove {
		anchor = domainemoji.AuditProposeDelete
	}

	var created domainemoji.Proposal
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		created, err = s.repo.CreateProposal(txCtx, proposal)
		if err != nil {
			return err
		}
		_, err = s.repo.AppendAudit(txCtx, domainemoji.AuditEntry{
			Date:       created.Created,
			Actor:      created.User,
			Action:     anchor,
			ProposalID: created.ID,
			Emoji:      created.Emoji,
		})
		return err
	}); err != nil {
		return ProposeResult{}, err
	}

	ctx = logging.WithProposal(ctx, created.ID, created.Thread)
	logging.Info(ctx, "proposal opened", slog.String("action", string(created.Action)), slog.Bool("alias", created.Alias))
	s.opts.Metrics.ProposalTransitioned(string(domainemoji.StateNew))

	if introPosted {
		intro = ""
	}
	s.announceProposal(ctx, created, intro)
	return ProposeResult{Proposal: created, Replacement: replacement}, nil
}

// announceProposal is best effort: the proposal is already stored.
func (s *Service) announceProposal(ctx context.Context, proposal domainemoji.Proposal, intro string) {
	if s.notifier == nil {
		return
	}
	text := s.votingRulesText(outcomeWords(proposal))
	if intro != "" {
		text = intro + "\n" + text
	}
	s.post(ctx, ports.Message{Channel: s.opts.EmojiChannel, Thread: proposal.Thread, Text: text})

	for _, reaction := range []string{s.opts.Reactions.Up, s.opts.Reactions.Down} {
		if err := s.notifier.Flag(ctx, s.opts.EmojiChannel, proposal.Thread, reaction); err != nil {
			logging.Warn(ctx, "seed reaction failed", slog.String("reaction", reaction), slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (s *Service) listEntries(ctx context.Context) (map[string]domainemoji.EntryKind, error) {
	if s.directory == nil {
		return nil, errors.New("directory gateway is required")
	}
	entries, err := s.directory.ListEntries(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "list directory entries")
	}
	return entries, nil
}

// post sends a message and logs instead of failing the caller.
func (s *Service) post(ctx context.Context, msg ports.Message) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Post(ctx, msg); err != nil {
		logging.Warn(ctx, "notification failed",
			slog.String("channel", msg.Channel),
			slog.String("thread", msg.Thread),
			slog.Any("err", errs.Loggable(err)),
		)
	}
}
