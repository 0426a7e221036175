// Package lifecycle governs invoice status transitions: who may move
// an invoice between pending, approved and rejected, and when edits
// are permitted at all.
package lifecycle

// State is an invoice lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

var validStates = map[State]bool{
	StatePending:  true,
	StateApproved: true,
	StateRejected: true,
}

// Terminal states admit no transition short of an administrative
// reopen, which is outside this client.
var terminalStates = map[State]bool{
	StateApproved: true,
	StateRejected: true,
}

// IsTerminal returns true if the state admits no further transitions
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// ParseState maps a backend status string onto a State. ok is false
// for anything outside the lifecycle.
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, st.IsValid()
}

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerEdit    Trigger = "EDIT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
