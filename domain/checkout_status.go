package domain

type CheckoutStatus string

const (
	CheckoutStatusIncomplete         CheckoutStatus = "incomplete"
	CheckoutStatusRequiresEscalation CheckoutStatus = "requires_escalation"
	CheckoutStatusReadyForComplete   CheckoutStatus = "ready_for_complete"
	CheckoutStatusCompleteInProgress CheckoutStatus = "complete_in_progress"
	CheckoutStatusCompleted          CheckoutStatus = "completed"
	CheckoutStatusCanceled           CheckoutStatus = "canceled"
)

var transitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusIncomplete: {
		CheckoutStatusIncomplete,
		CheckoutStatusRequiresEscalation,
		CheckoutStatusReadyForComplete,
		CheckoutStatusCanceled,
	},
	CheckoutStatusRequiresEscalation: {
		CheckoutStatusIncomplete,
		CheckoutStatusRequiresEscalation,
		CheckoutStatusReadyForComplete,
		CheckoutStatusCanceled,
	},
	CheckoutStatusReadyForComplete: {
		CheckoutStatusIncomplete,
		CheckoutStatusRequiresEscalation,
		CheckoutStatusReadyForComplete,
		CheckoutStatusCompleteInProgress,
		CheckoutStatusCanceled,
	},
	CheckoutStatusCompleteInProgress: {
		CheckoutStatusCompleted,
		CheckoutStatusIncomplete,
		CheckoutStatusRequiresEscalation,
		CheckoutStatusReadyForComplete,
		CheckoutStatusCanceled,
	},
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusCanceled
}

// Mutable reports whether buyer-facing fields may still change.
func (s CheckoutStatus) Mutable() bool {
	return s == CheckoutStatusIncomplete ||
		s == CheckoutStatusRequiresEscalation ||
		s == CheckoutStatusReadyForComplete
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the lifecycle allows moving from one status to another.
// Terminal statuses have no outgoing transitions.
func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
