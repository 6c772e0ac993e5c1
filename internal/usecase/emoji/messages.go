package emoji

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	domainemoji "emojivote/internal/domain/emoji"
)

func looksLikeID(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func (s *Service) votingRulesText(outcome string) string {
	rules := s.opts.Rules
	up, down := s.opts.Reactions.Up, s.opts.Reactions.Down
	return fmt.Sprintf(
		"Vote with :%s: or :%s:\nAfter %s, if there are at least %d more :%s: than :%s: votes, %s. "+
			"Voting will close after %s otherwise.\n\n"+
			"Please provide some context in the thread: What is this image? Where did it come from? How do you expect it to be used?",
		up, down,
		plural(rules.CommentPeriod, "business day"),
		rules.WinBy+1, up, down,
		outcome,
		plural(rules.MaxDuration, "business day"),
	)
}

func outcomeWords(p domainemoji.Proposal) string {
	switch {
	case p.Action == domainemoji.ActionRemove:
		return "the emoji will be removed"
	case p.Alias:
		return "the alias will be created"
	default:
		return "the emoji will be added"
	}
}

func introText(p domainemoji.Proposal, replacement bool, comment string) string {
	var text string
	switch {
	case p.Action == domainemoji.ActionRemove:
		text = fmt.Sprintf("<@%s> has proposed removing the emoji `:%s:` :%s:", p.User, p.Emoji, p.Emoji)
	case p.Alias:
		text = fmt.Sprintf("<@%s> has proposed an alias `:%s:` for :%s:", p.User, p.Emoji, p.Canonical)
	default:
		text = fmt.Sprintf("<@%s> has proposed a new emoji (`:%s:`)", p.User, p.Emoji)
		if replacement {
			text += fmt.Sprintf(" to replace :%s:", p.Emoji)
		}
		text += "!"
	}
	if comment = strings.TrimSpace(comment); comment != "" {
		text += "\n" + comment
	}
	return text
}

func pastTense(p domainemoji.Proposal) string {
	switch {
	case p.Action == domainemoji.ActionRemove:
		return "removed"
	case p.Alias:
		return "created"
	default:
		return "added"
	}
}

func displayName(p domainemoji.Proposal) string {
	if p.Action == domainemoji.ActionRemove {
		return fmt.Sprintf("`:%s:`", p.Emoji)
	}
	return fmt.Sprintf(":%s:", p.Emoji)
}

// statusLine renders one proposal for listings and admin notices.
func (s *Service) statusLine(status ProposalStatus) string {
	p := status.Proposal
	reactions := s.opts.Reactions

	var b strings.Builder
	if p.Action == domainemoji.ActionRemove {
		fmt.Fprintf(&b, ":heavy_minus_sign:`:%s:` ", p.Emoji)
	} else {
		fmt.Fprintf(&b, ":heavy_plus_sign:`:%s:` ", p.Emoji)
	}
	if p.Alias {
		fmt.Fprintf(&b, "(alias for `:%s:` :%s:) ", p.Canonical, p.Canonical)
	}
	if p.Permalink != "" {
		fmt.Fprintf(&b, "<%s|Thread> ", p.Permalink)
	}
	if status.Blocked {
		fmt.Fprintf(&b, ":%s: ", reactions.Block)
	}
	fmt.Fprintf(&b, "by <@%s> on %s ", p.User, p.Created.Format("2006-01-02 15:04"))
	if status.InCommentPeriod {
		b.WriteString(":speech_balloon: ")
	}
	fmt.Fprintf(&b, "%d:%s: %d:%s: net: %d", status.Tally.Up, reactions.Up, status.Tally.Down, reactions.Down, status.Tally.Net())
	if status.Passing {
		b.WriteString(" :+1:")
	}
	if status.Malformed {
		b.WriteString(" (malformed)")
	}
	return b.String()
}
