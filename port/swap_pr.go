package port

import (
	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// Power-role swap states (§4.4 "Swaps"), including the phases named in
// SPEC_FULL item 3: the CC-termination flip happens immediately before this
// port sends PS_RDY — to Rp in PR_SWAP_SNK_SRC_SOURCE_ON and to Rd in
// PR_SWAP_SRC_SNK_SOURCE_OFF — matching the original tcpm.c ordering.
var (
	statePRSwapSend        = &state{name: "PR_SWAP_SEND"}
	statePRSwapSendTimeout = &state{name: "PR_SWAP_SEND_TIMEOUT"}
	statePRSwapAccept      = &state{name: "PR_SWAP_ACCEPT"}
	statePRSwapCancel      = &state{name: "PR_SWAP_CANCEL"}
	statePRSwapReject      = &state{name: "PR_SWAP_REJECT"}
	statePRSwapWait        = &state{name: "PR_SWAP_WAIT"}

	statePRSwapSrcSnkSourceOff = &state{name: "PR_SWAP_SRC_SNK_SOURCE_OFF"}
	statePRSwapSrcSnkSinkOn    = &state{name: "PR_SWAP_SRC_SNK_SINK_ON"}
	statePRSwapSnkSrcSinkOff   = &state{name: "PR_SWAP_SNK_SRC_SINK_OFF"}
	statePRSwapSnkSrcSourceOn  = &state{name: "PR_SWAP_SNK_SRC_SOURCE_ON"}
)

func init() {
	statePRSwapSend.enter = func(p *Port) (*state, error) {
		if err := p.sendPRSwap(); err != nil {
			completeSwap(p, SwapTimeout)
			return p.readyState(), nil
		}
		p.armTimer(tSenderResponse)
		return nil, nil
	}
	statePRSwapSend.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() {
				switch ev.msg.Type() {
				case pdmsg.TypeAccept:
					if p.powerRole == pdmsg.PowerRoleSource {
						return statePRSwapSrcSnkSourceOff, nil
					}
					return statePRSwapSnkSrcSinkOff, nil
				case pdmsg.TypeReject:
					return statePRSwapReject, nil
				case pdmsg.TypeWait:
					return statePRSwapWait, nil
				}
			}
		case evTimerFire:
			return statePRSwapSendTimeout, nil
		}
		return nil, nil
	}

	statePRSwapSendTimeout.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapTimeout)
		return p.readyState(), nil
	}
	statePRSwapReject.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapRejected)
		return p.readyState(), nil
	}
	statePRSwapWait.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapRejected)
		return p.readyState(), nil
	}
	statePRSwapCancel.enter = func(p *Port) (*state, error) {
		completeSwap(p, SwapCancelled)
		return p.readyState(), nil
	}

	// We were sourcing; quiesce the supply, then hand off.
	statePRSwapSrcSnkSourceOff.enter = func(p *Port) (*state, error) {
		p.explicitContract = false
		p.armTimer(tPSSourceOff)
		return nil, nil
	}
	statePRSwapSrcSnkSourceOff.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evTimerFire {
			if err := p.tpcIf.SetCC(tpc.CCRd); err != nil {
				return nil, err
			}
			if err := p.sendPSRDY(); err != nil {
				return p.hardResetSendState(), nil
			}
			return statePRSwapSrcSnkSinkOn, nil
		}
		return nil, nil
	}

	// Waiting for the new source's PS_RDY; once it arrives we are the sink.
	statePRSwapSrcSnkSinkOn.enter = func(p *Port) (*state, error) {
		p.armTimer(tPSTransition)
		return nil, nil
	}
	statePRSwapSrcSnkSinkOn.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() && ev.msg.Type() == pdmsg.TypePSReady {
				p.setPowerRole(pdmsg.PowerRoleSink)
				p.zeroMessageID()
				p.explicitContract = true
				completeSwap(p, SwapOK)
				return stateSnkReady, nil
			}
		case evTimerFire:
			return p.hardResetSendState(), nil
		}
		return nil, nil
	}

	// We were sinking; stop drawing, then become source.
	statePRSwapSnkSrcSinkOff.enter = func(p *Port) (*state, error) {
		p.explicitContract = false
		p.armTimer(tPSSourceOff)
		return nil, nil
	}
	statePRSwapSnkSrcSinkOff.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evTimerFire {
			return statePRSwapSnkSrcSourceOn, nil
		}
		return nil, nil
	}

	// Becoming source: flip the CC termination to Rp before PS_RDY, per
	// SPEC_FULL item 3 — getting this order wrong leaves CC advertising the
	// wrong role during the handoff.
	statePRSwapSnkSrcSourceOn.enter = func(p *Port) (*state, error) {
		if err := p.tpcIf.SetCC(tpcRoleCC(p)); err != nil {
			return nil, err
		}
		p.setPowerRole(pdmsg.PowerRoleSource)
		p.zeroMessageID()
		if err := p.sendPSRDY(); err != nil {
			return p.hardResetSendState(), nil
		}
		p.explicitContract = true
		completeSwap(p, SwapOK)
		return stateSrcReady, nil
	}
}
