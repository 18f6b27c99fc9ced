package payment

// State is a step of the payment state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateValidating           State = "validating"
	StateAwaitingCashConfirm  State = "awaiting_cash_confirm"
	StateAwaitingGatewayOrder State = "awaiting_gateway_order"
	StateAwaitingUserPayment  State = "awaiting_user_payment"
	StateAwaitingVerification State = "awaiting_verification"
	StateSettled              State = "settled"
	StateFailed               State = "failed"
)

var transitions = map[State][]State{
	StateIdle:                 {StateValidating},
	StateValidating:           {StateAwaitingCashConfirm, StateAwaitingGatewayOrder, StateFailed},
	StateAwaitingCashConfirm:  {StateSettled, StateFailed},
	StateAwaitingGatewayOrder: {StateAwaitingUserPayment, StateFailed},
	StateAwaitingUserPayment:  {StateAwaitingVerification, StateFailed},
	StateAwaitingVerification: {StateSettled, StateFailed},
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateSettled || s == StateFailed
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s State) CanTransitionTo(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// interruptible reports whether an attempt in state s can be abandoned
// without racing a write that may already be committing.
func (s State) interruptible() bool {
	switch s {
	case StateIdle, StateValidating, StateAwaitingGatewayOrder, StateAwaitingUserPayment:
		return true
	default:
		return false
	}
}
