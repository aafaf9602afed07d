// Package exec implements the step executor (spec section 2, component C7):
// it drives one materialized op's steps to completion against a group's
// worker and connected endpoints, applying reductions in place and handling
// resend on retryable transport failure.
package exec

// State names a request's position in spec section 4.5's per-step state
// table: posted, sending, sent, waiting, reducing, done.
type State int

const (
	// StatePosted is the request's state from construction until Start
	// enters its first step, before any send has been issued.
	StatePosted State = iota
	// StateSending is set while the current step's local sends are in
	// flight.
	StateSending
	// StateSent is reached once every local send for the current step has
	// completed; a step with no expected receives moves straight from here
	// to the next step.
	StateSent
	// StateWaiting is set while the current step still expects one or more
	// inbound fragments.
	StateWaiting
	// StateReducing is set transiently while an inbound fragment is being
	// combined into the receive buffer; spec section 4.5 calls this out as
	// its own row because it is where is_swap ordering applies.
	StateReducing
	// StateDone is reached when the op's last step has both sent and
	// received everything it expects.
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePosted:
		return "posted"
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	case StateWaiting:
		return "waiting"
	case StateReducing:
		return "reducing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
