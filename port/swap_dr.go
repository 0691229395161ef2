package port

import "github.com/oxplot/go-typec-tpm/pdmsg"

// Data-role swap states (§4.4 "Swaps").
var (
	stateDRSwapSend      = &state{name: "DR_SWAP_SEND"}
	stateDRSwapSendTimeout = &state{name: "DR_SWAP_SEND_TIMEOUT"}
	stateDRSwapChangeDR  = &state{name: "DR_SWAP_CHANGE_DR"}
	stateDRSwapAccept    = &state{name: "DR_SWAP_ACCEPT"}
	stateDRSwapCancel    = &state{name: "DR_SWAP_CANCEL"}
	stateDRSwapReject    = &state{name: "DR_SWAP_REJECT"}
	stateDRSwapWait      = &state{name: "DR_SWAP_WAIT"}
)

func flipDataRole(r pdmsg.DataRole) pdmsg.DataRole {
	if r == pdmsg.DataRoleDFP {
		return pdmsg.DataRoleUFP
	}
	return pdmsg.DataRoleDFP
}

func init() {
	stateDRSwapSend.enter = func(p *Port) (*state, error) {
		if err := p.sendDRSwap(); err != nil {
			completeSwap(p, SwapTimeout)
			return p.readyState(), nil
		}
		p.armTimer(tSenderResponse)
		return nil, nil
	}
	stateDRSwapSend.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() {
				switch ev.msg.Type() {
				case pdmsg.TypeAccept:
					return stateDRSwapChangeDR, nil
				case pdmsg.TypeReject:
					return stateDRSwapReject, nil
				case pdmsg.TypeWait:
					return stateDRSwapWait, nil
				}
			}
		case evTimerFire:
			return stateDRSwapSendTimeout, nil
		}
		return nil, nil
	}

	stateDRSwapSendTimeout.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapTimeout)
		return p.readyState(), nil
	}

	stateDRSwapChangeDR.enter = func(p *Port) (*state, error) {
		p.setDataRole(flipDataRole(p.dataRole))
		completeSwap(p, SwapOK)
		return p.readyState(), nil
	}

	stateDRSwapReject.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapRejected)
		return p.readyState(), nil
	}

	stateDRSwapWait.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapRejected)
		return p.readyState(), nil
	}

	stateDRSwapCancel.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapCancelled)
		return p.readyState(), nil
	}

	// Peer-initiated: we received a DR_Swap request while in *_READY.
	stateDRSwapAccept.enter = func(p *Port) (*state, error) {
		if p.pendingSwap != nil {
			_ = p.sendReject()
			return p.readyState(), nil
		}
		if err := p.sendAccept(); err != nil {
			return nil, err
		}
		p.setDataRole(flipDataRole(p.dataRole))
		return p.readyState(), nil
	}
}
