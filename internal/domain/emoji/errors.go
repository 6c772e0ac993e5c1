package emoji

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedProposal = errors.New("proposal has no unique anchor entry")
	ErrInvalidState      = errors.New("invalid proposal state")
	ErrInvalidOperation  = errors.New("invalid proposal operation")
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrEntryNotFound     = errors.New("directory entry not found")
	ErrImageNotFound     = errors.New("image not found")

	ErrInvalidName      = errors.New("invalid emoji name")
	ErrReservedName     = errors.New("reserved emoji name")
	ErrBuiltInEntry     = errors.New("built-in emoji cannot be changed")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrEntryMissing     = errors.New("emoji does not exist")
	ErrEntryExists      = errors.New("emoji already exists")
	ErrNotAdmin         = errors.New("admin permission required")
	ErrInvalidVote      = errors.New("invalid vote")
)

// Rejection is a business-rule failure with a message meant for the requester.
type Rejection struct {
	Reason  error
	Message string
}

func (r *Rejection) Error() string { return r.Message }
func (r *Rejection) Unwrap() error { return r.Reason }

func reject(reason error, format string, args ...any) error {
	return &Rejection{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// UserMessage returns the requester-facing text of a Rejection anywhere in the chain.
func UserMessage(err error) (string, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection.Message, true
	}
	return "", false
}
