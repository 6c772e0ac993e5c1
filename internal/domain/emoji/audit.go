package emoji

import "time"

type AuditAction string

const (
	AuditProposeNew     AuditAction = "propose:new"
	AuditProposeDelete  AuditAction = "propose:delete"
	AuditVoteUp         AuditAction = "vote:up"
	AuditVoteDown       AuditAction = "vote:down"
	AuditAdminBlock     AuditAction = "admin:block"
	AuditAdminUnblock   AuditAction = "admin:unblock"
	AuditAdminForce     AuditAction = "admin:force"
	AuditAdminReset     AuditAction = "admin:reset"
	AuditUserReport     AuditAction = "user:report"
	AuditSystemReport   AuditAction = "system:report"
	AuditSystemUpload   AuditAction = "system:upload"
	AuditSystemDelete   AuditAction = "system:delete"
	AuditSystemFail     AuditAction = "system:fail"
	AuditSystemReject   AuditAction = "system:reject"
	AuditSystemWithdraw AuditAction = "system:withdraw"
)

const ActorSystem = "system"

func (a AuditAction) IsAnchor() bool {
	return a == AuditProposeNew || a == AuditProposeDelete
}

// AuditEntry is immutable once written. Seq is the store's insertion counter.
type AuditEntry struct {
	ID         string
	Seq        uint64
	Date       time.Time
	Actor      string
	Action     AuditAction
	ProposalID string
	Emoji      string
	Note       string
}

// OppositeVote maps a removed vote reaction to the counteracting vote.
func OppositeVote(action AuditAction) (AuditAction, bool) {
	switch action {
	case AuditVoteUp:
		return AuditVoteDown, true
	case AuditVoteDown:
		return AuditVoteUp, true
	default:
		return "", false
	}
}
