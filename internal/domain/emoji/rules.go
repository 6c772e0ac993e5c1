package emoji

import "time"

type VoteRules struct {
	CommentPeriod     int
	MaxDuration       int
	WinBy             int
	DownVoteThreshold int
	Holidays          Holidays
}

type Decision int

const (
	DecisionWait Decision = iota
	DecisionCommentPeriod
	DecisionBlocked
	DecisionAccept
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionCommentPeriod:
		return "comment-period"
	case DecisionBlocked:
		return "blocked"
	case DecisionAccept:
		return "accept"
	case DecisionReject:
		return "reject"
	default:
		return "wait"
	}
}

func (r VoteRules) CommentPeriodEnds(created time.Time) time.Time {
	return AddBusinessDays(created.UTC(), r.CommentPeriod, r.Holidays)
}

func (r VoteRules) VotingCloses(created time.Time) time.Time {
	return AddBusinessDays(created.UTC(), r.MaxDuration, r.Holidays)
}

func (r VoteRules) InCommentPeriod(created time.Time, now time.Time) bool {
	return r.CommentPeriodEnds(created).After(now.UTC())
}

// Evaluate is the transition rule for a proposal in state new. Precedence:
// comment period, block, win margin, max duration.
func Evaluate(created time.Time, tally TallyResult, now time.Time, rules VoteRules) Decision {
	if rules.InCommentPeriod(created, now) {
		return DecisionCommentPeriod
	}
	if tally.Blocked() {
		return DecisionBlocked
	}
	if tally.Wins(rules.WinBy) {
		return DecisionAccept
	}
	if rules.VotingCloses(created).Before(now.UTC()) {
		return DecisionReject
	}
	return DecisionWait
}
