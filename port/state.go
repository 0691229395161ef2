package port

import (
	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// eventKind tags the event union delivered to a state's handle function.
type eventKind uint8

const (
	evCCChange eventKind = iota
	evVBUS
	evRX
	evHardReset
	evTimerFire
	evSwapRequest
)

// SwapKind identifies which facade swap operation an evSwapRequest carries.
type SwapKind uint8

const (
	SwapKindDR SwapKind = iota
	SwapKindPR
	SwapKindVCONN
)

// SwapResult is delivered to the facade caller when a swap operation
// completes, per §4.6.
type SwapResult uint8

// Swap outcomes.
const (
	SwapOK SwapResult = iota
	SwapTimeout
	SwapRejected
	SwapCancelled
	SwapInvalid
)

func (r SwapResult) Error() string {
	switch r {
	case SwapOK:
		return ""
	case SwapTimeout:
		return "swap timed out (ETIMEDOUT)"
	case SwapRejected:
		return "swap rejected (EAGAIN)"
	case SwapCancelled:
		return "swap cancelled (EAGAIN)"
	case SwapInvalid:
		return "swap invalid for current port state (EINVAL)"
	default:
		return "unknown swap result"
	}
}

// swapRequest is queued onto the port's event channel by the facade.
type swapRequest struct {
	kind SwapKind
	done chan SwapResult
}

// event is the union of everything that can drive a state transition.
type event struct {
	kind eventKind
	cc1  tpc.CC
	cc2  tpc.CC
	vbus bool
	msg  pdmsg.Message
	swap swapRequest
}

// state is one node of the port manager's transition table. The shape
// mirrors a classic table-driven state machine: enter runs once on arrival,
// handle runs for every event while resident, exit runs once on departure.
type state struct {
	name string

	// enter runs actions on arrival. A non-nil next return causes an
	// immediate transition without waiting for an event (exit of this state
	// then enter of next run back to back). Before every call to enter, the
	// port's delayed-transition timer is disarmed.
	enter func(p *Port) (next *state, err error)

	// handle runs once per event (message received, timer fired, CC/VBUS
	// change, swap request) while resident in this state. It must be
	// non-nil unless enter always returns a next state, since otherwise the
	// state could never be left by the normal dispatch loop.
	handle func(p *Port, ev event) (next *state, err error)

	// exit runs once when enter or handle returns a non-nil next state.
	exit func(p *Port) error
}

// runEnter and runHandle call enter or handle if it is set and return the
// resolved next state (nil if none, or if the function is unset). Neither
// calls exit.
func (s *state) runEnter(p *Port) (*state, error) {
	if s.enter == nil {
		return nil, nil
	}
	return s.enter(p)
}

func (s *state) runHandle(p *Port, ev event) (*state, error) {
	if s.handle == nil {
		return nil, nil
	}
	return s.handle(p, ev)
}
