package emoji

import (
	"time"

	domainemoji "emojivote/internal/domain/emoji"
)

type ProposeEmojiInput struct {
	Requester   string
	FileName    string
	ContentType string
	Data        []byte
	Comment     string
	Thread      string
	Permalink   string
}

type ProposeAliasInput struct {
	Requester string
	Canonical string
	Alias     string
	Thread    string
	Permalink string
}

type ProposeRemovalInput struct {
	Requester string
	Name      string
	Thread    string
	Permalink string
}

type ProposeResult struct {
	Proposal    domainemoji.Proposal
	Replacement bool
}

type VoteInput struct {
	Thread string
	Actor  string
	Action domainemoji.AuditAction
}

type VoteResult struct {
	Proposal     domainemoji.Proposal
	Entry        domainemoji.AuditEntry
	Tally        domainemoji.TallyResult
	AutoReported bool
	Evaluation   Evaluation
}

// Evaluation is the outcome of running the transition rule on one proposal.
type Evaluation struct {
	ProposalID string
	Decision   domainemoji.Decision
	Tally      domainemoji.TallyResult
	// Outcome is set when Decision is accept.
	Outcome *ActionResult
	// Transitioned reports whether this call moved the proposal out of new.
	Transitioned bool
}

type ActionResult struct {
	ProposalID string
	Operation  string
	// Skipped means another caller already claimed the proposal.
	Skipped bool
	State   domainemoji.State
	Note    string
}

func (r ActionResult) OK() bool {
	return !r.Skipped && r.State == domainemoji.StateAccepted
}

type SweepReport struct {
	Evaluated int
	Accepted  int
	Rejected  int
	Failed    int
	Errors    int
}

type ResetInput struct {
	Actor       string
	ProposalRef string
	State       string
}

type FakeVoteInput struct {
	Actor       string
	ProposalRef string
	Vote        string
}

type ProposalStatus struct {
	Proposal        domainemoji.Proposal
	Tally           domainemoji.TallyResult
	Malformed       bool
	Blocked         bool
	InCommentPeriod bool
	Passing         bool
	CommentEnds     time.Time
	ClosesAt        time.Time
	Line            string
}

type EmojiStatus struct {
	Name      string
	Kind      domainemoji.EntryKind
	Mirror    *domainemoji.MirrorEntry
	ByState   map[domainemoji.State][]domainemoji.Proposal
	LastEntry *domainemoji.AuditEntry
}

type StatusReport struct {
	Proposal *ProposalStatus
	Emoji    *EmojiStatus
}

type RecentItem struct {
	Entry    domainemoji.AuditEntry
	Proposal domainemoji.Proposal
}

type ReconcileReport struct {
	Checked         int
	MissingRemotely []string
	UntrackedRemote []string
}

func (r ReconcileReport) InSync() bool {
	return len(r.MissingRemotely) == 0 && len(r.UntrackedRemote) == 0
}
