package port

import "github.com/oxplot/go-typec-tpm/pdmsg"

// Hard and soft reset states (§4.4 family 3).
var (
	stateHardResetSend = &state{name: "HARD_RESET_SEND"}
	stateHardResetStart = &state{name: "HARD_RESET_START"}

	stateSrcHardResetVBUSOff = &state{name: "SRC_HARD_RESET_VBUS_OFF"}
	stateSrcHardResetVBUSOn  = &state{name: "SRC_HARD_RESET_VBUS_ON"}

	stateSnkHardResetSinkOff  = &state{name: "SNK_HARD_RESET_SINK_OFF"}
	stateSnkHardResetWaitVBUS = &state{name: "SNK_HARD_RESET_WAIT_VBUS"}
	stateSnkHardResetSinkOn   = &state{name: "SNK_HARD_RESET_SINK_ON"}

	stateSoftReset     = &state{name: "SOFT_RESET"}
	stateSoftResetSend = &state{name: "SOFT_RESET_SEND"}
)

func init() {
	// HARD_RESET_SEND: locally-initiated hard reset (timeout, protocol
	// error, or exceeding retry counts elsewhere routes here).
	stateHardResetSend.enter = func(p *Port) (*state, error) {
		p.hardResetCount++
		if p.hardResetCount > nHardResetCount {
			return p.unattachedStateForRole(), nil
		}
		p.zeroMessageID()
		if err := p.sendReset(); err != nil {
			// A failed hard-reset transmission still forces the reset
			// sequence; the TPC toggles CC/VBUS regardless of ack.
			p.log.WithError(err).Debug("tpm: hard reset send reported an error, proceeding anyway")
		}
		if p.powerRole == pdmsg.PowerRoleSource {
			return stateSrcHardResetVBUSOff, nil
		}
		return stateSnkHardResetSinkOff, nil
	}

	// HARD_RESET_START: entered on a hard reset received from the partner.
	// Only the sending path (stateHardResetSend) counts toward
	// nHardResetCount: a partner that hard-resets us repeatedly, without us
	// ever sending one ourselves, must not be forced to unattached.
	stateHardResetStart.enter = func(p *Port) (*state, error) {
		p.zeroMessageID()
		if p.powerRole == pdmsg.PowerRoleSource {
			return stateSrcHardResetVBUSOff, nil
		}
		return stateSnkHardResetSinkOff, nil
	}

	stateSrcHardResetVBUSOff.enter = func(p *Port) (*state, error) {
		_ = p.tpcIf.SetVCONN(false)
		p.vconnSource = false
		p.explicitContract = false
		p.armTimer(tSrcRecover)
		return nil, nil
	}
	stateSrcHardResetVBUSOff.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evTimerFire {
			return stateSrcHardResetVBUSOn, nil
		}
		return nil, nil
	}

	stateSrcHardResetVBUSOn.enter = func(p *Port) (*state, error) {
		if err := p.tpcIf.SetVCONN(true); err != nil {
			return nil, err
		}
		p.vconnSource = true
		p.armTimer(tSrcRecoverTotal)
		return nil, nil
	}
	stateSrcHardResetVBUSOn.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evVBUS:
			if ev.vbus {
				return stateSrcStartup, nil
			}
		case evTimerFire:
			return stateSrcUnattached, nil
		}
		return nil, nil
	}

	stateSnkHardResetSinkOff.enter = func(p *Port) (*state, error) {
		p.explicitContract = false
		p.armTimer(tSafe0V)
		return nil, nil
	}
	stateSnkHardResetSinkOff.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evTimerFire {
			return stateSnkHardResetWaitVBUS, nil
		}
		return nil, nil
	}

	stateSnkHardResetWaitVBUS.enter = func(p *Port) (*state, error) {
		p.armTimer(tSrcRecoverTotal)
		return nil, nil
	}
	stateSnkHardResetWaitVBUS.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evVBUS:
			if ev.vbus {
				return stateSnkHardResetSinkOn, nil
			}
		case evTimerFire:
			return stateSnkUnattached, nil
		}
		return nil, nil
	}

	stateSnkHardResetSinkOn.enter = func(p *Port) (*state, error) {
		return stateSnkStartup, nil
	}

	// SOFT_RESET: received a SoftReset from the partner.
	stateSoftReset.enter = func(p *Port) (*state, error) {
		p.zeroMessageID()
		if err := p.sendAccept(); err != nil {
			return p.hardResetSendState(), nil
		}
		if p.powerRole == pdmsg.PowerRoleSource {
			return stateSrcSendCapabilities, nil
		}
		return stateSnkWaitCapabilities, nil
	}

	// SOFT_RESET_SEND: locally-initiated soft reset (protocol error path).
	stateSoftResetSend.enter = func(p *Port) (*state, error) {
		p.zeroMessageID()
		if err := p.sendSoftReset(); err != nil {
			return p.hardResetSendState(), nil
		}
		p.armTimer(tSenderResponse)
		return nil, nil
	}
	stateSoftResetSend.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evRX:
			if !ev.msg.IsData() && ev.msg.Type() == pdmsg.TypeAccept {
				if p.powerRole == pdmsg.PowerRoleSource {
					return stateSrcSendCapabilities, nil
				}
				return stateSnkWaitCapabilities, nil
			}
		case evTimerFire:
			return p.hardResetSendState(), nil
		}
		return nil, nil
	}
}
