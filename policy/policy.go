// Package policy implements the PDO selection and request-building rules a
// sink uses against a received set of source capabilities, and the request
// validation rules a source uses against a received request.
//
// Every function here is pure and total over well-formed inputs: no I/O, no
// state, no timers. The port state machine in package port calls these at
// the appropriate transitions and routes the result into a PD message.
package policy

import (
	"errors"
	"fmt"

	"github.com/oxplot/go-typec-tpm/pdmsg"
)

// PortType is the role capability a board was wired for.
type PortType uint8

// Port types.
const (
	PortTypeSink PortType = iota
	PortTypeSource
	PortTypeDRP
)

func (t PortType) String() string {
	switch t {
	case PortTypeSink:
		return "Sink"
	case PortTypeSource:
		return "Source"
	case PortTypeDRP:
		return "DRP"
	default:
		return "Invalid"
	}
}

// BoardConfig is the read-only board configuration consulted by the policy
// selector and by the port state machine's default-role bring-up. It is
// read once at port registration (§6 "Board configuration") and never
// mutated afterwards, so it's safe to share across ports.
type BoardConfig struct {
	// SrcPDO is the list of power profiles this port advertises while
	// sourcing. Index 0 must be the vSafe5V fixed profile per spec.
	SrcPDO []pdmsg.PDO

	// SnkPDO is the list of power profiles this port advertises in response
	// to GetSinkCap while sinking or acting as a DRP.
	SnkPDO []pdmsg.PDO

	// MaxSnkMV is the highest source voltage this sink will request.
	MaxSnkMV uint16

	// MaxSnkMA caps the requested current regardless of what a PDO offers.
	MaxSnkMA uint16

	// MaxSnkMW caps the requested power regardless of what a PDO offers.
	MaxSnkMW uint16

	// OperatingSnkMW is the power this device actually needs to run
	// normally; requests for less than this set the capability-mismatch
	// flag.
	OperatingSnkMW uint16

	// PortType constrains which roles this port may occupy.
	PortType PortType

	// DefaultRole is the power role a DRP port starts in at registration,
	// which picks its initial unattached state (Source/Sink ports always use
	// their fixed role). After a hard-reset cap is exceeded the port returns
	// to the unattached state of its current power role, not of DefaultRole.
	DefaultRole pdmsg.PowerRole

	// DPM optionally overrides SelectSinkPDO/BuildRequest with a custom
	// device policy manager capable of evaluating profile types this
	// package doesn't decode on its own (PPS, battery-with-margin, etc).
	// See package tcdpm for ready-made evaluators. Nil disables the
	// override.
	DPM CapabilityEvaluator
}

// CapabilityEvaluator is the interface a custom device policy manager
// implements to override the default PDO selection. Defined here (rather
// than importing package tcdpm) so board configs can reference a DPM
// without the core policy package depending on it.
type CapabilityEvaluator interface {
	EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO
}

// ErrNoFit is returned by SelectSinkPDO when no advertised source PDO fits
// under the board's voltage cap.
var ErrNoFit = errors.New("policy: no source PDO fits board voltage cap")

// ErrInvalidRequest is returned by CheckRequest when a received request
// cannot be satisfied by the advertised source PDOs.
type ErrInvalidRequest struct {
	Reason string
}

func (e *ErrInvalidRequest) Error() string {
	return fmt.Sprintf("policy: invalid request: %s", e.Reason)
}

// decoded is the power/voltage/current triple extracted from a source PDO,
// used internally to compare candidates on a common basis.
type decoded struct {
	mV uint16
	mA uint16
	mW uint32
}

func decodeSourcePDO(p pdmsg.PDO, board BoardConfig) (decoded, bool) {
	switch p.Type() {
	case pdmsg.PDOTypeFixedSupply:
		fs := pdmsg.FixedSupplyPDO(p)
		mA := fs.MaxCurrent()
		if board.MaxSnkMA != 0 && mA > board.MaxSnkMA {
			mA = board.MaxSnkMA
		}
		mV := fs.Voltage()
		return decoded{mV: mV, mA: mA, mW: uint32(mA) * uint32(mV) / 1000}, true
	case pdmsg.PDOTypeVariableSupply:
		vs := pdmsg.VariableSupplyPDO(p)
		mA := vs.MaxCurrent()
		if board.MaxSnkMA != 0 && mA > board.MaxSnkMA {
			mA = board.MaxSnkMA
		}
		mV := vs.MaxVoltage()
		return decoded{mV: mV, mA: mA, mW: uint32(mA) * uint32(mV) / 1000}, true
	case pdmsg.PDOTypeBattery:
		bat := pdmsg.BatterySupplyPDO(p)
		return decoded{mV: bat.MaxVoltage(), mA: 0, mW: uint32(bat.MaxPower())}, true
	default:
		return decoded{}, false
	}
}

// SelectSinkPDO iterates the advertised source PDOs and returns the index
// (0-based) of the one with maximum deliverable power among those whose
// voltage does not exceed board.MaxSnkMV. Ties are broken in favor of the
// earlier index. ErrNoFit is returned if none pass the voltage cap.
func SelectSinkPDO(sourceCaps []pdmsg.PDO, board BoardConfig) (int, error) {
	best := -1
	var bestMW uint32
	for i, p := range sourceCaps {
		d, ok := decodeSourcePDO(p, board)
		if !ok {
			continue
		}
		if board.MaxSnkMV != 0 && d.mV > board.MaxSnkMV {
			continue
		}
		if best == -1 || d.mW > bestMW {
			best = i
			bestMW = d.mW
		}
	}
	if best == -1 {
		return 0, ErrNoFit
	}
	return best, nil
}

// BuildRequest constructs the RequestDO for the PDO at selected (0-based
// index into sourceCaps), capped by board.MaxSnkMW, and sets the
// capability-mismatch flag if the resulting power is below
// board.OperatingSnkMW.
func BuildRequest(sourceCaps []pdmsg.PDO, selected int, board BoardConfig) (pdmsg.RequestDO, error) {
	if selected < 0 || selected >= len(sourceCaps) {
		return 0, &ErrInvalidRequest{Reason: "selected index out of range"}
	}
	p := sourceCaps[selected]
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(uint8(selected) + 1)

	switch p.Type() {
	case pdmsg.PDOTypeFixedSupply, pdmsg.PDOTypeVariableSupply:
		d, _ := decodeSourcePDO(p, board)
		mW := uint32(d.mA) * uint32(d.mV) / 1000
		if board.MaxSnkMW != 0 && mW > uint32(board.MaxSnkMW) {
			mW = uint32(board.MaxSnkMW)
			if d.mV > 0 {
				d.mA = uint16(mW * 1000 / uint32(d.mV))
			}
		}
		rdo.SetFixedOperatingCurrent(d.mA)
		rdo.SetFixedMaxOperatingCurrent(d.mA)
		rdo.SetCapabilityMismatch(mW < uint32(board.OperatingSnkMW))
	case pdmsg.PDOTypeBattery:
		bat := pdmsg.BatterySupplyPDO(p)
		mW := uint32(bat.MaxPower())
		if board.MaxSnkMW != 0 && mW > uint32(board.MaxSnkMW) {
			mW = uint32(board.MaxSnkMW)
		}
		rdo.SetBatteryOperatingPower(uint16(mW))
		rdo.SetBatteryMaxOperatingPower(uint16(mW))
		rdo.SetCapabilityMismatch(mW < uint32(board.OperatingSnkMW))
	default:
		return 0, &ErrInvalidRequest{Reason: "unsupported PDO type"}
	}
	return rdo, nil
}

// CheckRequest validates a request received by a source against the source
// PDOs it advertised. It returns a non-nil *ErrInvalidRequest describing
// why the request must be rejected, or nil if it should be accepted.
func CheckRequest(rdo pdmsg.RequestDO, advertisedSrcPDO []pdmsg.PDO) error {
	pos := rdo.SelectedObjectPosition()
	if pos == 0 || int(pos) > len(advertisedSrcPDO) {
		return &ErrInvalidRequest{Reason: "PDO index out of range"}
	}
	p := advertisedSrcPDO[pos-1]
	mismatch := rdo.CapabilityMismatch()

	switch p.Type() {
	case pdmsg.PDOTypeFixedSupply:
		fs := pdmsg.FixedSupplyPDO(p)
		op, max := rdo.FixedOperatingCurrent(), rdo.FixedMaxOperatingCurrent()
		if !mismatch && (op > fs.MaxCurrent() || max > fs.MaxCurrent()) {
			return &ErrInvalidRequest{Reason: "current exceeds fixed PDO cap"}
		}
	case pdmsg.PDOTypeVariableSupply:
		vs := pdmsg.VariableSupplyPDO(p)
		op, max := rdo.FixedOperatingCurrent(), rdo.FixedMaxOperatingCurrent()
		if !mismatch && (op > vs.MaxCurrent() || max > vs.MaxCurrent()) {
			return &ErrInvalidRequest{Reason: "current exceeds variable PDO cap"}
		}
	case pdmsg.PDOTypeBattery:
		bat := pdmsg.BatterySupplyPDO(p)
		op, max := rdo.BatteryOperatingPower(), rdo.BatteryMaxOperatingPower()
		if !mismatch && (op > bat.MaxPower() || max > bat.MaxPower()) {
			return &ErrInvalidRequest{Reason: "power exceeds battery PDO cap"}
		}
	default:
		return &ErrInvalidRequest{Reason: "advertised PDO has unknown type"}
	}
	return nil
}
