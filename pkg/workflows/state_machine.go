package workflows

// StateMachine enforces review status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an explicit transition table
func NewStateMachine(transitions map[string][]string) *StateMachine {
	table := make(map[string][]string, len(transitions))
	for from, to := range transitions {
		table[from] = append([]string(nil), to...)
	}
	return &StateMachine{allowedTransitions: table}
}

// NewReviewStateMachine returns the landlord verification review lifecycle.
// VERIFIED may go back under review because a later submission can cover a
// different scope.
func NewReviewStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"PENDING":      {"UNDER_REVIEW"},
		"UNDER_REVIEW": {"VERIFIED", "REJECTED"},
		"VERIFIED":     {"UNDER_REVIEW"},
		"REJECTED":     {"UNDER_REVIEW"},
	})
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return append([]string(nil), allowed...)
}

