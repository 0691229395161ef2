package port

import "github.com/oxplot/go-typec-tpm/pdmsg"

// VCONN swap states (§4.4 "Swaps"). vconnSwapNextPhase implements
// SPEC_FULL item 4: once a swap is accepted, a port that sources VCONN
// turns it off and a port that does not turns it on. A swap request
// carries no direction, so VCONN_SWAP_SEND is sent whatever vconn_source is.
var (
	stateVCONNSwapSend       = &state{name: "VCONN_SWAP_SEND"}
	stateVCONNSwapSendTimeout = &state{name: "VCONN_SWAP_SEND_TIMEOUT"}
	stateVCONNSwapAccept     = &state{name: "VCONN_SWAP_ACCEPT"}
	stateVCONNSwapCancel     = &state{name: "VCONN_SWAP_CANCEL"}
	stateVCONNSwapReject     = &state{name: "VCONN_SWAP_REJECT"}
	stateVCONNSwapWait       = &state{name: "VCONN_SWAP_WAIT"}
	stateVCONNSwapWaitForVCONN = &state{name: "VCONN_SWAP_WAIT_FOR_VCONN"}
	stateVCONNSwapTurnOnVCONN  = &state{name: "VCONN_SWAP_TURN_ON_VCONN"}
	stateVCONNSwapTurnOffVCONN = &state{name: "VCONN_SWAP_TURN_OFF_VCONN"}
)

// vconnSwapNextPhase decides, after the swap is accepted, whether this port
// must turn VCONN on or turn it off — mirroring the original "who currently
// sources VCONN" check.
func vconnSwapNextPhase(p *Port) *state {
	if p.vconnSource {
		return stateVCONNSwapTurnOffVCONN
	}
	return stateVCONNSwapTurnOnVCONN
}

func init() {
	stateVCONNSwapSend.enter = func(p *Port) (*state, error) {
		if err := p.sendVCONNSwap(); err != nil {
			completeSwap(p, SwapTimeout)
			return p.readyState(), nil
		}
		p.armTimer(tSenderResponse)
		return nil, nil
	}
	stateVCONNSwapSend.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() {
				switch ev.msg.Type() {
				case pdmsg.TypeAccept:
					return vconnSwapNextPhase(p), nil
				case pdmsg.TypeReject:
					return stateVCONNSwapReject, nil
				case pdmsg.TypeWait:
					return stateVCONNSwapWait, nil
				}
			}
		case evTimerFire:
			return stateVCONNSwapSendTimeout, nil
		}
		return nil, nil
	}

	stateVCONNSwapSendTimeout.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapTimeout)
		return p.readyState(), nil
	}
	stateVCONNSwapReject.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapRejected)
		return p.readyState(), nil
	}
	stateVCONNSwapWait.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapRejected)
		return p.readyState(), nil
	}
	stateVCONNSwapCancel.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapCancelled)
		return p.readyState(), nil
	}

	stateVCONNSwapTurnOnVCONN.enter = func(p *Port) (*state, error) {
		if err := p.tpcIf.SetVCONN(true); err != nil {
			return nil, err
		}
		p.vconnSource = true
		p.armTimer(tVCONNSourceOn)
		return nil, nil
	}
	stateVCONNSwapTurnOnVCONN.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evTimerFire {
			completeSwap(p, SwapOK)
			return p.readyState(), nil
		}
		return nil, nil
	}

	stateVCONNSwapTurnOffVCONN.enter = func(p *Port) (*state, error) {
		if err := p.tpcIf.SetVCONN(false); err != nil {
			return nil, err
		}
		p.vconnSource = false
		completeSwap(p, SwapOK)
		return p.readyState(), nil
	}

	// VCONN_SWAP_WAIT_FOR_VCONN completes the swap without changing this
	// port's VCONN supply. vconnSwapNextPhase does not select it.
	stateVCONNSwapWaitForVCONN.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapOK)
		return p.readyState(), nil
	}

	// Peer-initiated: we received a VCONN_Swap request while in *_READY.
	stateVCONNSwapAccept.enter = func(p *Port) (*state, error) {
		if p.pendingSwap != nil {
			_ = p.sendReject()
			return p.readyState(), nil
		}
		if err := p.sendAccept(); err != nil {
			return nil, err
		}
		return vconnSwapNextPhase(p), nil
	}
}
