package locker

// Step is the current phase of the booking wizard.
type Step string

const (
	StepRegister Step = "register"
	StepBooking  Step = "booking"
	StepConfirm  Step = "confirm"
	StepSuccess  Step = "success"
)

// Valid reports whether s is a known wizard step.
func (s Step) Valid() bool {
	switch s {
	case StepRegister, StepBooking, StepConfirm, StepSuccess:
		return true
	}
	return false
}

// CanTransition reports whether the wizard may move from one step to another.
// Staying on the same step is always allowed.
func CanTransition(from, to Step) bool {
	if from == to {
		return from.Valid()
	}
	switch from {
	case StepRegister:
		return to == StepBooking
	case StepBooking:
		return to == StepConfirm
	case StepConfirm:
		return to == StepSuccess
	case StepSuccess:
		return to == StepRegister
	default:
		return false
	}
}
