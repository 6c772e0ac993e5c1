package emoji

import (
	"fmt"
	"strings"
)

// Operation is the external effect of an accepted proposal.
// Implementations: AddNew, AddAlias, Remove.
type Operation interface {
	Target() string
	isOperation()
}

type AddNew struct {
	Name    string
	FileRef string
}

type AddAlias struct {
	Name      string
	Canonical string
}

type Remove struct {
	Name string
}

func (o AddNew) Target() string   { return o.Name }
func (o AddAlias) Target() string { return o.Name }
func (o Remove) Target() string   { return o.Name }

func (AddNew) isOperation()   {}
func (AddAlias) isOperation() {}
func (Remove) isOperation()   {}

func PlanOperation(p Proposal) (Operation, error) {
	name := strings.TrimSpace(p.Emoji)
	if name == "" {
		return nil, fmt.Errorf("%w: proposal %s has no emoji name", ErrInvalidOperation, p.ID)
	}

	switch p.Action {
	case ActionAdd:
		if p.Alias {
			canonical := strings.TrimSpace(p.Canonical)
			if canonical == "" {
				return nil, fmt.Errorf("%w: alias proposal %s has no canonical name", ErrInvalidOperation, p.ID)
			}
			return AddAlias{Name: name, Canonical: canonical}, nil
		}
		if strings.TrimSpace(p.FileRef) == "" {
			return nil, fmt.Errorf("%w: proposal %s has no file to upload", ErrInvalidOperation, p.ID)
		}
		return AddNew{Name: name, FileRef: p.FileRef}, nil
	case ActionRemove:
		if p.Alias {
			return nil, fmt.Errorf("%w: removal proposal %s is flagged as alias", ErrInvalidOperation, p.ID)
		}
		return Remove{Name: name}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q in proposal %s", ErrInvalidOperation, p.Action, p.ID)
	}
}

// SuccessAudit is the audit action recorded when op succeeds.
func SuccessAudit(op Operation) AuditAction {
	if _, ok := op.(Remove); ok {
		return AuditSystemDelete
	}
	return AuditSystemUpload
}
