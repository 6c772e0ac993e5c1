package emoji

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"emojivote/internal/bootstrap/logging"
	domainemoji "emojivote/internal/domain/emoji"
	"emojivote/internal/errs"
	"emojivote/internal/ports"
)

type EventKind string

const (
	EventVoteAdded       EventKind = "vote-reaction-added"
	EventVoteRemoved     EventKind = "vote-reaction-removed"
	EventReportAdded     EventKind = "report-reaction-added"
	EventReportRemoved   EventKind = "report-reaction-removed"
	EventForceAdded      EventKind = "force-reaction-added"
	EventForceRemoved    EventKind = "force-reaction-removed"
	EventBlockAdded      EventKind = "block-reaction-added"
	EventBlockRemoved    EventKind = "block-reaction-removed"
	EventWithdrawAdded   EventKind = "withdraw-reaction-added"
	EventWithdrawRemoved EventKind = "withdraw-reaction-removed"
	EventProposal        EventKind = "proposal-requested"
	EventAdminReset      EventKind = "admin-reset-requested"
	EventAdminTally      EventKind = "admin-tally-requested"
	EventAdminFakeVote   EventKind = "admin-fakevote-requested"
)

// Event is a normalized inbound chat event.
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	Thread     string            `json:"thread"`
	Channel    string            `json:"channel"`
	Actor      string            `json:"actor"`
	Payload    map[string]string `json:"payload,omitempty"`
	Attachment []byte            `json:"attachment,omitempty"`
}

const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

const eventDedupeTTL = 24 * time.Hour

var adminOnlyEvents = map[EventKind]struct{}{
	EventForceAdded:    {},
	EventBlockAdded:    {},
	EventBlockRemoved:  {},
	EventAdminReset:    {},
	EventAdminTally:    {},
	EventAdminFakeVote: {},
}

// HandleEvent applies one inbound event. Events with an id are processed at
// most once within the dedupe window. Rejections are answered to the actor and
// are not returned as errors.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	ctx = logging.WithAttrs(ctx,
		slog.String("component", "usecase.emoji.events"),
		slog.String("event_kind", string(ev.Kind)),
		slog.String("event_id", ev.ID),
		slog.String("actor", ev.Actor),
	)

	if !s.claimEvent(ctx, ev.ID) {
		logging.Debug(ctx, "duplicate event dropped")
		s.opts.Metrics.EventHandled(string(ev.Kind), OutcomeDuplicate)
		return nil
	}

	outcome, err := s.dispatchEvent(ctx, ev)
	if err != nil {
		switch {
		case isIgnorable(err):
			logging.Info(ctx, "event ignored", slog.Any("err", errs.Loggable(err)))
			outcome, err = OutcomeIgnored, nil
		default:
			if msg, ok := domainemoji.UserMessage(err); ok {
				s.tellActor(ctx, ev, msg)
				outcome, err = OutcomeRejected, nil
			}
		}
	}
	if err != nil {
		s.releaseEvent(ctx, ev.ID)
		s.opts.Metrics.EventHandled(string(ev.Kind), OutcomeError)
		logging.Error(ctx, "event failed", slog.Any("err", errs.Loggable(err)))
		return err
	}
	s.opts.Metrics.EventHandled(string(ev.Kind), outcome)
	return nil
}

func isIgnorable(err error) bool {
	return errors.Is(err, domainemoji.ErrProposalNotFound) ||
		errors.Is(err, domainemoji.ErrInvalidState) ||
		errors.Is(err, domainemoji.ErrInvalidVote) ||
		errors.Is(err, domainemoji.ErrInvalidOperation) ||
		errors.Is(err, domainemoji.ErrNotAdmin)
}

func (s *Service) dispatchEvent(ctx context.Context, ev Event) (string, error) {
	actor := strings.TrimSpace(ev.Actor)
	if actor == "" {
		return "", errActorRequired
	}
	if _, adminOnly := adminOnlyEvents[ev.Kind]; adminOnly && !s.opts.IsAdmin(actor) {
		return "", fmt.Errorf("%w: %s", domainemoji.ErrNotAdmin, ev.Kind)
	}

	switch ev.Kind {
	case EventVoteAdded, EventVoteRemoved:
		action, err := s.voteAction(ev.Payload["vote"])
		if err != nil {
			return "", err
		}
		if ev.Kind == EventVoteRemoved {
			action, _ = domainemoji.OppositeVote(action)
		}
		_, err = s.RecordVote(ctx, VoteInput{Thread: ev.Thread, Actor: actor, Action: action})
		return OutcomeOK, err
	case EventReportAdded:
		_, err := s.RecordVote(ctx, VoteInput{Thread: ev.Thread, Actor: actor, Action: domainemoji.AuditUserReport})
		return OutcomeOK, err
	case EventReportRemoved:
		return OutcomeIgnored, nil
	case EventForceAdded:
		_, err := s.Force(ctx, ev.Thread, actor)
		return OutcomeOK, err
	case EventForceRemoved:
		s.tellActor(ctx, ev, "You already forced voted this emoji. Unreacting at this point has no meaning.")
		return OutcomeOK, nil
	case EventBlockAdded, EventBlockRemoved:
		return s.handleBlock(ctx, ev, actor)
	case EventWithdrawAdded:
		withdrawn, err := s.Withdraw(ctx, ev.Thread, actor)
		if err != nil || !withdrawn {
			return OutcomeIgnored, err
		}
		return OutcomeOK, nil
	case EventWithdrawRemoved:
		s.tellActor(ctx, ev, "You already withdrew this emoji. Unreacting at this point has no meaning.")
		return OutcomeOK, nil
	case EventProposal:
		return s.handleProposalRequest(ctx, ev, actor)
	case EventAdminReset:
		proposal, err := s.Reset(ctx, ResetInput{Actor: actor, ProposalRef: ev.Payload["proposal"], State: ev.Payload["state"]})
		if err != nil {
			return "", err
		}
		s.tellActor(ctx, ev, fmt.Sprintf("Proposal %s is now %s.", proposal.ID, proposal.State))
		return OutcomeOK, nil
	case EventAdminTally:
		report, err := s.Sweep(ctx, s.now())
		if err != nil {
			return "", err
		}
		s.tellActor(ctx, ev, fmt.Sprintf("Tallied %d proposals: %d accepted, %d rejected, %d failed.",
			report.Evaluated, report.Accepted, report.Rejected, report.Failed))
		return OutcomeOK, nil
	case EventAdminFakeVote:
		_, err := s.FakeVote(ctx, FakeVoteInput{Actor: actor, ProposalRef: ev.Payload["proposal"], Vote: ev.Payload["vote"]})
		return OutcomeOK, err
	default:
		logging.Warn(ctx, "unknown event kind")
		return OutcomeIgnored, nil
	}
}

func (s *Service) voteAction(vote string) (domainemoji.AuditAction, error) {
	switch strings.TrimSpace(strings.ToLower(domainemoji.StripColons(vote))) {
	case "up", s.opts.Reactions.Up:
		return domainemoji.AuditVoteUp, nil
	case "down", s.opts.Reactions.Down:
		return domainemoji.AuditVoteDown, nil
	default:
		return "", fmt.Errorf("%w: %q", domainemoji.ErrInvalidVote, vote)
	}
}

func (s *Service) handleBlock(ctx context.Context, ev Event, actor string) (string, error) {
	action := domainemoji.AuditAdminBlock
	text := fmt.Sprintf("<@%s> has blocked this proposal. Voting may continue, but the votes will not be counted unless <@%s> unblocks this proposal before the voting period ends.", actor, actor)
	if ev.Kind == EventBlockRemoved {
		action = domainemoji.AuditAdminUnblock
		text = fmt.Sprintf("<@%s> has unblocked this proposal.", actor)
	}
	result, err := s.RecordVote(ctx, VoteInput{Thread: ev.Thread, Actor: actor, Action: action})
	if err != nil {
		return "", err
	}
	s.post(ctx, ports.Message{Channel: s.opts.EmojiChannel, Thread: result.Proposal.Thread, Text: text})
	return OutcomeOK, nil
}

func (s *Service) handleProposalRequest(ctx context.Context, ev Event, actor string) (string, error) {
	var err error
	switch strings.ToLower(strings.TrimSpace(ev.Payload["type"])) {
	case "", "emoji":
		data, ferr := s.attachment(ctx, ev)
		if ferr != nil {
			return "", ferr
		}
		_, err = s.ProposeEmoji(ctx, ProposeEmojiInput{
			Requester:   actor,
			FileName:    ev.Payload["file_name"],
			ContentType: ev.Payload["content_type"],
			Data:        data,
			Comment:     ev.Payload["comment"],
			Thread:      ev.Thread,
			Permalink:   ev.Payload["permalink"],
		})
	case "alias":
		_, err = s.ProposeAlias(ctx, ProposeAliasInput{
			Requester: actor,
			Canonical: ev.Payload["canonical"],
			Alias:     ev.Payload["alias"],
			Thread:    ev.Thread,
			Permalink: ev.Payload["permalink"],
		})
	case "remove":
		_, err = s.ProposeRemoval(ctx, ProposeRemovalInput{
			Requester: actor,
			Name:      ev.Payload["name"],
			Thread:    ev.Thread,
			Permalink: ev.Payload["permalink"],
		})
	default:
		return "", fmt.Errorf("%w: unknown proposal type %q", domainemoji.ErrInvalidOperation, ev.Payload["type"])
	}
	if err != nil {
		return "", err
	}
	return OutcomeOK, nil
}

// attachment returns the inline image of a proposal event or downloads it
// from payload file_url.
func (s *Service) attachment(ctx context.Context, ev Event) ([]byte, error) {
	if len(ev.Attachment) > 0 {
		return ev.Attachment, nil
	}
	fileURL := strings.TrimSpace(ev.Payload["file_url"])
	if fileURL == "" {
		return nil, nil
	}
	if s.opts.Attachments == nil {
		return nil, errors.New("attachment fetcher is not configured")
	}
	data, err := s.opts.Attachments.FetchAttachment(ctx, fileURL)
	if err != nil {
		return nil, errs.Wrap(err, "download proposal image")
	}
	return data, nil
}

func (s *Service) tellActor(ctx context.Context, ev Event, text string) {
	channel := strings.TrimSpace(ev.Channel)
	if channel == "" {
		channel = s.opts.EmojiChannel
	}
	s.post(ctx, ports.Message{
		Channel:   channel,
		Thread:    ev.Thread,
		Text:      text,
		Ephemeral: true,
		User:      ev.Actor,
	})
}

func eventKey(id string) string {
	return "event:" + id
}

// claimEvent reports whether the event should be processed. Cache failures
// let the event through.
func (s *Service) claimEvent(ctx context.Context, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || s.cache == nil {
		return true
	}
	won, err := s.cache.Claim(ctx, eventKey(id), s.now().Format(time.RFC3339), eventDedupeTTL)
	if err != nil {
		logging.Warn(ctx, "event dedupe claim failed", slog.Any("err", errs.Loggable(err)))
		return true
	}
	return won
}

func (s *Service) releaseEvent(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" || s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, eventKey(id)); err != nil {
		logging.Warn(ctx, "event dedupe release failed", slog.Any("err", errs.Loggable(err)))
	}
}
