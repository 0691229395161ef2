package port

import (
	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/policy"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// Unattached, attach-wait and accessory states (§4.4 family 1). Declared as
// package-level vars and wired up in init() so handler closures can refer
// to sibling states without an initialization-order dance.
var (
	stateSrcUnattached  = &state{name: "SRC_UNATTACHED"}
	stateSrcAttachWait  = &state{name: "SRC_ATTACH_WAIT"}
	stateSrcAttached    = &state{name: "SRC_ATTACHED"}

	stateSnkUnattached  = &state{name: "SNK_UNATTACHED"}
	stateSnkAttachWait  = &state{name: "SNK_ATTACH_WAIT"}
	stateSnkAttached    = &state{name: "SNK_ATTACHED"}

	stateAccUnattached     = &state{name: "ACC_UNATTACHED"}
	stateDebugAccAttached  = &state{name: "DEBUG_ACC_ATTACHED"}
	stateAudioAccAttached  = &state{name: "AUDIO_ACC_ATTACHED"}
	stateAudioAccDebounce  = &state{name: "AUDIO_ACC_DEBOUNCE"}

	// Try.SRC / TryWait.SNK (§1): a DRP port prefers trying the source role
	// before settling into sink when it first sees a potential partner,
	// per Design Note item 6's call for symmetric, explicit role handling.
	stateTrySrc     = &state{name: "TRY_SRC"}
	stateTryWaitSnk = &state{name: "TRY_WAIT_SNK"}
)

func init() {
	stateSrcUnattached.enter = func(p *Port) (*state, error) {
		p.attached = false
		if err := p.tpcIf.SetCC(tpc.CCRpDefault); err != nil {
			return nil, err
		}
		return nil, nil
	}
	stateSrcUnattached.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind != evCCChange {
			return nil, nil
		}
		sink, debugAcc, audioAcc := sourceSeesAttach(ev.cc1, ev.cc2)
		if sink || debugAcc || audioAcc {
			return stateSrcAttachWait, nil
		}
		return nil, nil
	}

	stateSrcAttachWait.enter = func(p *Port) (*state, error) {
		p.armTimer(tCCDebounce)
		return nil, nil
	}
	stateSrcAttachWait.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evCCChange:
			p.armTimer(tCCDebounce)
			return nil, nil
		case evTimerFire:
			sink, debugAcc, audioAcc := sourceSeesAttach(p.cc1, p.cc2)
			switch {
			case debugAcc:
				return stateDebugAccAttached, nil
			case audioAcc:
				return stateAudioAccAttached, nil
			case sink:
				return stateSrcAttached, nil
			default:
				return stateSrcUnattached, nil
			}
		}
		return nil, nil
	}

	stateSrcAttached.enter = func(p *Port) (*state, error) {
		p.polarity = sourcePolarity(p.cc1, p.cc2)
		if err := p.tpcIf.SetPolarity(p.polarity); err != nil {
			return nil, err
		}
		p.setPowerRole(pdmsg.PowerRoleSource)
		p.setDataRole(pdmsg.DataRoleDFP)
		if err := p.tpcIf.SetVCONN(true); err != nil {
			return nil, err
		}
		p.vconnSource = true
		if err := p.tpcIf.SetPDRx(true); err != nil {
			return nil, err
		}
		p.attached = true
		p.connectPending = true
		return stateSrcStartup, nil
	}

	stateSnkUnattached.enter = func(p *Port) (*state, error) {
		p.attached = false
		if err := p.tpcIf.SetCC(tpc.CCRd); err != nil {
			return nil, err
		}
		return nil, nil
	}
	stateSnkUnattached.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind != evCCChange {
			return nil, nil
		}
		if !sinkSeesAttach(ev.cc1, ev.cc2) {
			return nil, nil
		}
		if p.board.PortType == policy.PortTypeDRP {
			return stateTrySrc, nil
		}
		return stateSnkAttachWait, nil
	}

	stateTrySrc.enter = func(p *Port) (*state, error) {
		if err := p.tpcIf.SetCC(tpc.CCRpDefault); err != nil {
			return nil, err
		}
		p.armTimer(tCCDebounce)
		return nil, nil
	}
	stateTrySrc.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evCCChange:
			sink, debugAcc, audioAcc := sourceSeesAttach(ev.cc1, ev.cc2)
			if sink || debugAcc || audioAcc {
				return stateSrcAttachWait, nil
			}
			return nil, nil
		case evTimerFire:
			return stateTryWaitSnk, nil
		}
		return nil, nil
	}

	stateTryWaitSnk.enter = func(p *Port) (*state, error) {
		if err := p.tpcIf.SetCC(tpc.CCRd); err != nil {
			return nil, err
		}
		p.armTimer(tCCDebounce)
		return nil, nil
	}
	stateTryWaitSnk.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evCCChange:
			if sinkSeesAttach(ev.cc1, ev.cc2) {
				return stateSnkAttachWait, nil
			}
			return nil, nil
		case evTimerFire:
			return stateSnkUnattached, nil
		}
		return nil, nil
	}

	stateSnkAttachWait.enter = func(p *Port) (*state, error) {
		p.armTimer(tCCDebounce)
		return nil, nil
	}
	stateSnkAttachWait.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evCCChange:
			p.armTimer(tCCDebounce)
			return nil, nil
		case evTimerFire:
			if sinkSeesAttach(p.cc1, p.cc2) {
				return stateSnkAttached, nil
			}
			return stateSnkUnattached, nil
		}
		return nil, nil
	}

	stateSnkAttached.enter = func(p *Port) (*state, error) {
		p.polarity = sinkPolarity(p.cc1, p.cc2)
		if err := p.tpcIf.SetPolarity(p.polarity); err != nil {
			return nil, err
		}
		p.setPowerRole(pdmsg.PowerRoleSink)
		p.setDataRole(pdmsg.DataRoleUFP)
		if err := p.tpcIf.SetPDRx(true); err != nil {
			return nil, err
		}
		p.attached = true
		p.connectPending = true
		if p.vbusPresent {
			return stateSnkStartup, nil
		}
		return nil, nil
	}
	stateSnkAttached.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evVBUS && ev.vbus {
			return stateSnkStartup, nil
		}
		return nil, nil
	}

	stateDebugAccAttached.enter = func(p *Port) (*state, error) {
		p.attached = true
		p.pdCapable = false
		p.connectPending = true
		return nil, nil
	}
	stateDebugAccAttached.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evCCChange {
			sink, debugAcc, audioAcc := sourceSeesAttach(ev.cc1, ev.cc2)
			if !sink && !debugAcc && !audioAcc {
				return stateAccUnattached, nil
			}
		}
		return nil, nil
	}

	stateAudioAccAttached.enter = func(p *Port) (*state, error) {
		p.attached = true
		p.pdCapable = false
		p.connectPending = true
		return nil, nil
	}
	stateAudioAccAttached.handle = func(p *Port, ev event) (*state, error) {
		if ev.kind == evCCChange {
			_, _, audioAcc := sourceSeesAttach(ev.cc1, ev.cc2)
			if !audioAcc {
				return stateAudioAccDebounce, nil
			}
		}
		return nil, nil
	}

	stateAudioAccDebounce.enter = func(p *Port) (*state, error) {
		p.armTimer(tCCDebounce)
		return nil, nil
	}
	stateAudioAccDebounce.handle = func(p *Port, ev event) (*state, error) {
		switch ev.kind {
		case evCCChange:
			_, _, audioAcc := sourceSeesAttach(ev.cc1, ev.cc2)
			if audioAcc {
				return stateAudioAccAttached, nil
			}
			return nil, nil
		case evTimerFire:
			return stateAccUnattached, nil
		}
		return nil, nil
	}

	stateAccUnattached.enter = func(p *Port) (*state, error) {
		p.attached = false
		p.disconnectPending = true
		return p.unattachedStateForRole(), nil
	}
}
