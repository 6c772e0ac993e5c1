package emoji

import "fmt"

// TallyResult is derived from the audit log on every call and never stored.
type TallyResult struct {
	Up           int
	Down         int
	Block        int
	Unblock      int
	UserReport   int
	SystemReport int
}

func (t TallyResult) Net() int {
	return t.Up - t.Down
}

func (t TallyResult) Blocked() bool {
	return t.Block-t.Unblock > 0
}

// Wins requires the net score to exceed winBy, not merely reach it.
func (t TallyResult) Wins(winBy int) bool {
	return t.Net() > winBy
}

func (t TallyResult) ShouldAutoReport(threshold int) bool {
	return t.SystemReport == 0 && t.Down >= threshold
}

// Tally counts the audit entries of one proposal. Entries that belong to other
// proposals are ignored. A proposal without exactly one anchor entry yields
// the zero result and ErrMalformedProposal.
func Tally(proposalID string, entries []AuditEntry) (TallyResult, error) {
	var (
		result  TallyResult
		anchors int
	)
	for _, entry := range entries {
		if entry.ProposalID != proposalID {
			continue
		}
		switch entry.Action {
		case AuditProposeNew, AuditProposeDelete:
			anchors++
		case AuditVoteUp:
			result.Up++
		case AuditVoteDown:
			result.Down++
		case AuditAdminBlock:
			result.Block++
		case AuditAdminUnblock:
			result.Unblock++
		case AuditUserReport:
			result.UserReport++
		case AuditSystemReport:
			result.SystemReport++
		}
	}

	if anchors != 1 {
		return TallyResult{}, fmt.Errorf("%w: proposal %s has %d anchors", ErrMalformedProposal, proposalID, anchors)
	}
	return result, nil
}
