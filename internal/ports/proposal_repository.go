package ports

import (
	"context"
	"time"

	domainemoji "emojivote/internal/domain/emoji"
)

type ProposalFilter struct {
	States []domainemoji.State
	Emoji  string
}

type AuditQuery struct {
	Actions []domainemoji.AuditAction
	Since   time.Time
	Limit   int
}

type ProposalReadRepository interface {
	GetProposal(ctx context.Context, id string) (domainemoji.Proposal, error)
	GetProposalByThread(ctx context.Context, thread string) (domainemoji.Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]domainemoji.Proposal, error)
	// ListAudit returns the entries of one proposal ordered by (date, seq).
	ListAudit(ctx context.Context, proposalID string) ([]domainemoji.AuditEntry, error)
	// ListAuditByAction returns matching entries newest first.
	ListAuditByAction(ctx context.Context, query AuditQuery) ([]domainemoji.AuditEntry, error)
	GetMirrorEntry(ctx context.Context, name string) (domainemoji.MirrorEntry, error)
	ListMirror(ctx context.Context) ([]domainemoji.MirrorEntry, error)
}

type ProposalRepository interface {
	ProposalReadRepository
	CreateProposal(ctx context.Context, proposal domainemoji.Proposal) (domainemoji.Proposal, error)
	// CompareAndSetState moves the proposal from one state to another and reports
	// whether this caller won. A lost race is not an error.
	CompareAndSetState(ctx context.Context, id string, from domainemoji.State, to domainemoji.State) (bool, error)
	// ForceState overwrites the state regardless of the current one.
	ForceState(ctx context.Context, id string, to domainemoji.State) error
	AppendAudit(ctx context.Context, entry domainemoji.AuditEntry) (domainemoji.AuditEntry, error)
	UpsertMirrorEntry(ctx context.Context, entry domainemoji.MirrorEntry) error
	DeleteMirrorEntry(ctx context.Context, name string) error
}
