package session

// State is the view a visitor's page is showing.
type State string

const (
	Locked    State = "LOCKED"
	Unlocked  State = "UNLOCKED"
	Success   State = "SUCCESS"
	Exhausted State = "EXHAUSTED"
)

// Event is an outcome reported by a flow.
type Event int

const (
	PasscodeAccepted Event = iota
	PasscodeRejected
	PoolExhausted
	ClaimAccepted
	ClaimRejected
	GatewayFailed
)

func (e Event) String() string {
	switch e {
	case PasscodeAccepted:
		return "passcode_accepted"
	case PasscodeRejected:
		return "passcode_rejected"
	case PoolExhausted:
		return "pool_exhausted"
	case ClaimAccepted:
		return "claim_accepted"
	case ClaimRejected:
		return "claim_rejected"
	case GatewayFailed:
		return "gateway_failed"
	default:
		return "unknown"
	}
}

// Transition returns the state that follows s after ev.
// EXHAUSTED and SUCCESS are terminal. Events that make no sense in s
// leave it unchanged.
func Transition(s State, ev Event) State {
	switch s {
	case Exhausted, Success:
		return s
	}
	if ev == PoolExhausted {
		return Exhausted
	}
	switch s {
	case Locked:
		if ev == PasscodeAccepted {
			return Unlocked
		}
	case Unlocked:
		if ev == ClaimAccepted {
			return Success
		}
	}
	return s
}
