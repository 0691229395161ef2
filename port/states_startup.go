package port

import (
	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/policy"
)

// Startup, negotiation and ready states (§4.4 family 2), plus the service
// states named in SPEC_FULL item 2 (GIVE_SOURCE_CAPS / GIVE_SINK_CAPS /
// REQUEST_REJECT).
var (
	stateSrcStartup              = &state{name: "SRC_STARTUP"}
	stateSrcSendCapabilities     = &state{name: "SRC_SEND_CAPABILITIES"}
	stateSrcNegotiateCapabilities = &state{name: "SRC_NEGOTIATE_CAPABILITIES"}
	stateSrcTransitionSupply     = &state{name: "SRC_TRANSITION_SUPPLY"}
	stateSrcReady                = &state{name: "SRC_READY"}
	stateSrcWaitNewCapabilities  = &state{name: "SRC_WAIT_NEW_CAPABILITIES"}

	stateSnkStartup               = &state{name: "SNK_STARTUP"}
	stateSnkWaitCapabilities      = &state{name: "SNK_WAIT_CAPABILITIES"}
	stateSnkNegotiateCapabilities = &state{name: "SNK_NEGOTIATE_CAPABILITIES"}
	stateSnkTransitionSink        = &state{name: "SNK_TRANSITION_SINK"}
	stateSnkReady                 = &state{name: "SNK_READY"}

	stateGiveSourceCaps = &state{name: "GIVE_SOURCE_CAPS"}
	stateGiveSinkCaps   = &state{name: "GIVE_SINK_CAPS"}
	stateRequestReject  = &state{name: "REQUEST_REJECT"}
)

// serviceRequest inspects a received control/data message while resident in
// one of the *_READY (or wait) states and returns the service state to
// dispatch to, if any.
func serviceRequest(p *Port, ev event) *state {
	if ev.kind != evRX {
		return nil
	}
	m := ev.msg
	if m.IsData() {
		switch m.Type() {
		case pdmsg.TypeRequest:
			p.pinRevision(m.Revision())
			p.sinkRequest = pdmsg.RequestDO(m.Data[0])
			return stateSrcNegotiateCapabilities
		}
		return nil
	}
	switch m.Type() {
	case pdmsg.TypeGetSourceCap:
		return stateGiveSourceCaps
	case pdmsg.TypeGetSinkCap:
		return stateGiveSinkCaps
	case pdmsg.TypeSoftReset:
		return stateSoftReset
	case pdmsg.TypeDRSwap:
		return stateDRSwapAccept
	case pdmsg.TypePRSwap:
		return statePRSwapAccept
	case pdmsg.TypeVCONNSwap:
		return stateVCONNSwapAccept
	}
	return nil
}

func init() {
	stateSrcStartup.enter = func(p *Port) (*state, error) {
		p.capsCount = 0
		p.hardResetCount = 0
		p.explicitContract = false
		p.pdCapable = false
		p.zeroMessageID()
		return stateSrcSendCapabilities, nil
	}

	stateSrcSendCapabilities.enter = func(p *Port) (*state, error) {
		p.capsCount++
		if p.capsCount > nCapsCount {
			return p.hardResetSendState(), nil
		}
		if err := p.sendSourceCaps(); err != nil {
			p.armTimer(tSendSourceCap)
			return nil, nil
		}
		p.pdCapable = true
		p.armTimer(tSendSourceCap)
		return nil, nil
	}
	stateSrcSendCapabilities.handle = func(p *Port, ev event) (*state, error) {
		if next := serviceRequest(p, ev); next != nil {
			return next, nil
		}
		if ev.kind == evTimerFire {
			if !p.pdCapable {
				return stateSrcSendCapabilities, nil
			}
			return p.hardResetSendState(), nil
		}
		return nil, nil
	}

	stateSrcNegotiateCapabilities.enter = func(p *Port) (*state, error) {
		if err := policy.CheckRequest(p.sinkRequest, p.board.SrcPDO); err != nil {
			p.log.WithError(err).Debug("tpm: rejecting request")
			return stateRequestReject, nil
		}
		if err := p.sendAccept(); err != nil {
			return nil, err
		}
		p.armTimer(tSrcTransition)
		return nil, nil
	}
	stateSrcNegotiateCapabilities.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evTimerFire {
			return stateSrcTransitionSupply, nil
		}
		return nil, nil
	}

	stateRequestReject.enter = func(p *Port) (*state, error) {
		if err := p.sendReject(); err != nil {
			return nil, err
		}
		if p.explicitContract {
			return p.readyState(), nil
		}
		return stateSrcWaitNewCapabilities, nil
	}

	stateSrcTransitionSupply.enter = func(p *Port) (*state, error) {
		// The supply level itself is a board/TPC power-path concern outside
		// the TPC contract (§4.3 exposes no set_vbus); only the protocol
		// handshake lives here.
		if err := p.sendPSRDY(); err != nil {
			return nil, err
		}
		p.explicitContract = true
		return stateSrcReady, nil
	}

	stateSrcReady.enter = func(p *Port) (*state, error) {
		p.armTimer(tSourceActivity)
		return nil, nil
	}
	stateSrcReady.handle = func(p *Port, ev event) (*state, error) {
		if next := serviceRequest(p, ev); next != nil {
			return next, nil
		}
		switch ev.kind {
		case evTimerFire:
			if err := p.sendPing(); err != nil {
				return nil, err
			}
			p.armTimer(tSourceActivity)
			return nil, nil
		case evSwapRequest:
			return dispatchSwapRequest(p, ev.swap)
		}
		return nil, nil
	}

	stateSrcWaitNewCapabilities.handle = func(p *Port, ev event) (*state, error) {
		if next := serviceRequest(p, ev); next != nil {
			return next, nil
		}
		return nil, nil
	}

	stateSnkStartup.enter = func(p *Port) (*state, error) {
		p.capsCount = 0
		p.hardResetCount = 0
		p.explicitContract = false
		p.pdCapable = false
		p.zeroMessageID()
		return stateSnkWaitCapabilities, nil
	}

	stateSnkWaitCapabilities.enter = func(p *Port) (*state, error) {
		p.armTimer(tSinkWaitCap)
		return nil, nil
	}
	stateSnkWaitCapabilities.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if ev.msg.IsData() && ev.msg.Type() == pdmsg.TypeSourceCap {
				p.pinRevision(ev.msg.Revision())
				p.pdCapable = true
				p.sourceCaps = sourceCapsFromMessage(ev.msg)
				return stateSnkNegotiateCapabilities, nil
			}
			if next := serviceRequest(p, ev); next != nil {
				return next, nil
			}
		case evTimerFire:
			return p.hardResetSendState(), nil
		}
		return nil, nil
	}

	stateSnkNegotiateCapabilities.enter = func(p *Port) (*state, error) {
		var rdo pdmsg.RequestDO
		idx := 0
		if p.board.DPM != nil {
			rdo = p.board.DPM.EvaluateCapabilities(p.sourceCaps)
		}
		if rdo == pdmsg.EmptyRequestDO {
			var err error
			idx, err = policy.SelectSinkPDO(p.sourceCaps, p.board)
			if err != nil {
				return p.hardResetSendState(), nil
			}
			rdo, err = policy.BuildRequest(p.sourceCaps, idx, p.board)
			if err != nil {
				return p.hardResetSendState(), nil
			}
		} else {
			idx = int(rdo.SelectedObjectPosition()) - 1
		}
		p.selectedPDO = idx
		p.ourRequestDO = rdo
		if err := p.sendRequest(rdo); err != nil {
			return nil, err
		}
		p.armTimer(tSenderResponse)
		return nil, nil
	}
	stateSnkNegotiateCapabilities.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() {
				switch ev.msg.Type() {
				case pdmsg.TypeAccept:
					return stateSnkTransitionSink, nil
				case pdmsg.TypeReject, pdmsg.TypeWait:
					if p.explicitContract {
						return stateSnkReady, nil
					}
					return p.hardResetSendState(), nil
				}
			}
		case evTimerFire:
			return p.hardResetSendState(), nil
		}
		return nil, nil
	}

	stateSnkTransitionSink.enter = func(p *Port) (*state, error) {
		p.armTimer(tPSTransition)
		return nil, nil
	}
	stateSnkTransitionSink.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() && ev.msg.Type() == pdmsg.TypePSReady {
				p.explicitContract = true
				return stateSnkReady, nil
			}
		case evTimerFire:
			return p.hardResetSendState(), nil
		}
		return nil, nil
	}

	stateSnkReady.handle = func(p *Port, ev event) (*state, error) {
		if next := serviceRequest(p, ev); next != nil {
			return next, nil
		}
		if ev.kind == evSwapRequest {
			return dispatchSwapRequest(p, ev.swap)
		}
		return nil, nil
	}

	stateGiveSourceCaps.enter = func(p *Port) (*state, error) {
		if err := p.sendSourceCaps(); err != nil {
			return nil, err
		}
		return p.returnState(), nil
	}

	stateGiveSinkCaps.enter = func(p *Port) (*state, error) {
		if err := p.sendSinkCaps(); err != nil {
			return nil, err
		}
		return p.returnState(), nil
	}
}
