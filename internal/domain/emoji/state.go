package emoji

import (
	"fmt"
	"strings"
)

type State string

const (
	StateNew       State = "new"
	StateAccepted  State = "accepted"
	StateRejected  State = "rejected"
	StateFailed    State = "failed"
	StateWithdrawn State = "withdrawn"
)

var allowedStates = map[State]struct{}{
	StateNew:       {},
	StateAccepted:  {},
	StateRejected:  {},
	StateFailed:    {},
	StateWithdrawn: {},
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// ParseState accepts the lowercase state names used by the reset command.
// An empty value means "new".
func ParseState(state string) (State, error) {
	trimmed := State(strings.ToLower(strings.TrimSpace(state)))
	if trimmed == "" {
		return StateNew, nil
	}
	if _, ok := allowedStates[trimmed]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	return trimmed, nil
}

func (s State) Terminal() bool {
	return s != StateNew
}

// CanTransition reports whether the normal lifecycle allows from -> to.
// The admin reset path does not go through this check.
func CanTransition(from State, to State) bool {
	if from != StateNew {
		return false
	}
	_, ok := allowedStates[to]
	return ok && to != StateNew
}
