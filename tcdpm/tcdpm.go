// Package tcdpm implements ready-made device policy managers that plug into
// policy.BoardConfig.DPM for boards whose sink behavior needs more than the
// package policy default (fixed-PDO, highest-wattage-under-cap) selection,
// such as constant-current or constant-power charging profiles built on PPS.
package tcdpm

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oxplot/go-typec-tpm/pdmsg"
)

// CapabilityEvaluator evaluates a set of received source PDOs and returns
// the RequestDO to negotiate with. Implementations are pluggable into
// policy.BoardConfig.DPM.
type CapabilityEvaluator interface {
	EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO
}

// Policy is a CapabilityEvaluator that can also validate its parameters.
type Policy interface {
	// Validate returns an error if the policy parameters are invalid.
	Validate() error
	CapabilityEvaluator
}

// CCPolicy defines a constant current policy where the power source is expected
// to drop the voltage if needed to maintain the current under the negotiated
// current. If current is below the negotiated current, the power source is
// expected to increase the voltage up to the negotiated voltage.
//
// Below are some examples of where a constant current supply is useful:
//
//   - Driving LEDs
//   - Charging Li-ion batteries
//
// Constant current capability is only available in PD power sources that
// support Programmable Power Supply (PPS) standard.
//
// WARNING: Most PD power sources are not compliant with PPS standard and do not
// implement constant current capability. There is no way to identify such
// chargers via the PD protocol alone. Always ensure your specific charger
// supports constant current capability before using it in your application by
// running it under load.
type CCPolicy struct {

	// Minimum accepted voltage in millivolts when current is below MaxCurrent.
	MinVoltage uint16

	// Maximum accpeted voltage in millivolts when current is below MaxCurrent.
	MaxVoltage uint16

	// Minimum current in milliamps that should be supplied under all load
	// conditions. Note that per standard, current for this policy (which uses
	// PPS) must be >= 1000mA.
	MinCurrent uint16

	// Maximum current in milliamps that should be supplied under all load
	// conditions. Note that per standard, current for this policy (which uses
	// PPS) must be >= 1000mA.
	// Higher currents up to MaxCurrent are preferred over lower currents.
	MaxCurrent uint16

	// If a source provides multiple profile within the voltage range of a
	// policy, it's possible to prefer lower voltage profiles than the default
	// higher voltage profiles.
	PreferLowerVoltage bool
}

var (
	errCCBadCurrent          = errors.New("tcdpm: current must be >= 1000mA & <= 5000mA")
	errBadVoltage            = errors.New("tcdpm: voltage must be >= 3300mV & <= 21000 mV")
	errCVBadCurrent          = errors.New("tcdpm: current must be >= 0mA & <= 5000mA")
	errMaxCurrentLessThanMin = errors.New("tcdpm: max current must be >= min current")
	errMaxVoltageLessThanMin = errors.New("tcdpm: max voltage must be >= min voltage")
	errCPZeroPower           = errors.New("tcdpm: power must be > 0")
)

// Validate returns an error if the policy parameters are invalid.
func (c CCPolicy) Validate() error {
	if c.MinCurrent < 1000 || c.MaxCurrent < 1000 || c.MinCurrent > 5000 || c.MaxCurrent > 5000 {
		return errCCBadCurrent
	}
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinCurrent > c.MaxCurrent {
		return errMaxCurrentLessThanMin
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities evaluates the provided power profiles against the policy
// and returns a RequestDO that can be used to negotiate with the power
// source.
func (c CCPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	var bestVoltage uint16
	if c.PreferLowerVoltage {
		bestVoltage = ^uint16(0)
	}
	rdo := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		if p.Type() != pdmsg.PDOTypePPS {
			continue
		}
		pps := pdmsg.PPSPDO(p)
		minV, maxV := c.MinVoltage, c.MaxVoltage
		if minV < pps.MinVoltage() {
			minV = pps.MinVoltage()
		}
		if maxV > pps.MaxVoltage() {
			maxV = pps.MaxVoltage()
		}
		if minV <= maxV && pps.MaxCurrent() >= c.MinCurrent {
			cur := pps.MaxCurrent()
			if pps.MaxCurrent() > c.MaxCurrent {
				cur = c.MaxCurrent
			}
			if c.PreferLowerVoltage && minV < bestVoltage {
				rdo.SetSelectedObjectPosition(uint8(i) + 1)
				rdo.SetPPSOutputVoltage(minV)
				rdo.SetPPSOutputCurrent(cur)
				bestVoltage = minV
			} else if !c.PreferLowerVoltage && maxV > bestVoltage {
				rdo.SetSelectedObjectPosition(uint8(i) + 1)
				rdo.SetPPSOutputVoltage(maxV)
				rdo.SetPPSOutputCurrent(cur)
				bestVoltage = maxV
			}
		}
	}
	return rdo
}

// CVPolicy defines a constant voltage policy where the power source is expected
// to maintain the negotiated voltage and to be capable of supplying at least
// the negotiated current.
//
// CVPolicy takes advantage of both fixed and programmable PD profiles. In case
// of programmable, 150mA margin is added to the Current defined by the policy
// to ensure the power supply does not limit current close to the operating
// current.
type CVPolicy struct {

	// Minimum accepted voltage in millivolts.
	MinVoltage uint16

	// Maximum accepted voltage in millivolts.
	MaxVoltage uint16

	// Current in milliamps that the source must be able to supply at the
	// negotiated voltage.
	Current uint16

	// If a source provides multiple profile within the voltage range of a
	// policy, it's possible to prefer lower voltage profiles than the default
	// higher voltage profiles.
	PreferLowerVoltage bool

	// By default, CVPolicy prefers fixed PD profiles unless none can satisfy the
	// requirements in which case PPS profiles are considered. If this is set to
	// true, CVPolicy will prefer PPS profiles over fixed ones.
	PreferPPS bool
}

const cvCurrentMargin = 150 // mA

// Validate returns an error if the policy parameters are invalid.
func (c CVPolicy) Validate() error {
	if c.Current > 5000 {
		return errCVBadCurrent
	}
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities evaluates the provided power profiles against the policy
// and returns a RequestDO that can be used to negotiate with the power
// source.
func (c *CVPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	ppsMaxCurrent := c.Current + cvCurrentMargin

	var bestFixedVoltage, bestPPSVoltage uint16
	if c.PreferLowerVoltage {
		bestFixedVoltage = ^uint16(0)
		bestPPSVoltage = ^uint16(0)
	}
	bestFixedRDO := pdmsg.EmptyRequestDO
	bestPPSRDO := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			v := fs.Voltage()
			if v >= c.MinVoltage && v <= c.MaxVoltage && fs.MaxCurrent() >= c.Current {
				if (c.PreferLowerVoltage && v < bestFixedVoltage) || (!c.PreferLowerVoltage && v > bestFixedVoltage) {
					bestFixedRDO.SetSelectedObjectPosition(uint8(i) + 1)
					bestFixedRDO.SetFixedMaxOperatingCurrent(c.Current)
					bestFixedRDO.SetFixedOperatingCurrent(c.Current)
					bestFixedVoltage = v
				}
			}
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			minV, maxV := c.MinVoltage, c.MaxVoltage
			if minV < pps.MinVoltage() {
				minV = pps.MinVoltage()
			}
			if maxV > pps.MaxVoltage() {
				maxV = pps.MaxVoltage()
			}
			if minV <= maxV && ppsMaxCurrent <= pps.MaxCurrent() {
				if c.PreferLowerVoltage && minV < bestPPSVoltage {
					bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
					bestPPSRDO.SetPPSOutputVoltage(minV)
					bestPPSRDO.SetPPSOutputCurrent(c.Current)
					bestPPSVoltage = minV
				} else if !c.PreferLowerVoltage && maxV > bestPPSVoltage {
					bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
					bestPPSRDO.SetPPSOutputVoltage(maxV)
					bestPPSRDO.SetPPSOutputCurrent(c.Current)
					bestPPSVoltage = maxV
				}
			}
		}
	}
	if bestFixedRDO == pdmsg.EmptyRequestDO {
		return bestPPSRDO
	}
	if bestPPSRDO == pdmsg.EmptyRequestDO {
		return bestFixedRDO
	}
	if c.PreferPPS {
		return bestPPSRDO
	}
	return bestFixedRDO
}

// CPPolicy defines a constant power policy where the power source is expected
// to be capabale of supplying at the specified power at the negotiated voltage.
// CPPolicy is a special case of CVPolicy where the current is calculated from
// the power and voltage.
type CPPolicy struct {

	// Minimum accepted voltage in millivolts.
	MinVoltage uint16

	// Maximum accepted voltage in millivolts.
	MaxVoltage uint16

	// Power in milliwatts that the source must be able to supply at the
	// negotiated voltage.
	Power uint16

	// If a source provides multiple profile within the voltage range of a
	// policy, it's possible to prefer lower voltage profiles than the default
	// higher voltage profiles.
	PreferLowerVoltage bool

	// By default, CPPolicy prefers fixed PD profiles unless none can satisfy the
	// requirements in which case PPS profiles are considered. If this is set to
	// true, CPPolicy will prefer PPS profiles over fixed ones.
	PreferPPS bool
}

// Validate returns an error if the policy parameters are invalid.
func (c CPPolicy) Validate() error {
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	if c.Power == 0 {
		return errCPZeroPower
	}
	return nil
}

// EvaluateCapabilities evaluates the provided power profiles against the policy
// and returns a RequestDO that can be used to negotiate with the power
// source.
func (c *CPPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	var bestFixedVoltage, bestPPSVoltage uint16
	if c.PreferLowerVoltage {
		bestFixedVoltage = ^uint16(0)
		bestPPSVoltage = ^uint16(0)
	}
	bestFixedRDO := pdmsg.EmptyRequestDO
	bestPPSRDO := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			v := fs.Voltage()
			maxCur := uint16(uint32(c.Power) * 1000 / uint32(v))
			if v >= c.MinVoltage && v <= c.MaxVoltage && fs.MaxCurrent() >= maxCur {
				if (c.PreferLowerVoltage && v < bestFixedVoltage) || (!c.PreferLowerVoltage && v > bestFixedVoltage) {
					bestFixedRDO.SetSelectedObjectPosition(uint8(i) + 1)
					bestFixedRDO.SetFixedMaxOperatingCurrent(maxCur)
					bestFixedRDO.SetFixedOperatingCurrent(maxCur)
					bestFixedVoltage = v
				}
			}
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			minV, maxV := c.MinVoltage, c.MaxVoltage
			if minV < pps.MinVoltage() {
				minV = pps.MinVoltage()
			}
			if maxV > pps.MaxVoltage() {
				maxV = pps.MaxVoltage()
			}
			if minV <= maxV {
				maxC := uint16(uint32(c.Power)*1000/uint32(maxV)) + cvCurrentMargin
				minPV := uint16(uint32(c.Power) * 1000 / uint32(pps.MaxCurrent()-cvCurrentMargin))
				if minPV < minV {
					minPV = minV
				}
				if c.PreferLowerVoltage && minPV < bestPPSVoltage && minPV <= maxV {
					bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
					bestPPSRDO.SetPPSOutputVoltage(minPV)
					bestPPSRDO.SetPPSOutputCurrent(uint16(uint32(c.Power) * 1000 / uint32(minPV)))
					bestPPSVoltage = minPV
				} else if !c.PreferLowerVoltage && maxV > bestPPSVoltage && maxC <= pps.MaxCurrent() {
					bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
					bestPPSRDO.SetPPSOutputVoltage(maxV)
					bestPPSRDO.SetPPSOutputCurrent(maxC)
					bestPPSVoltage = maxV
				}
			}
		}
	}
	if bestFixedRDO == pdmsg.EmptyRequestDO {
		return bestPPSRDO
	}
	if bestPPSRDO == pdmsg.EmptyRequestDO {
		return bestFixedRDO
	}
	if c.PreferPPS {
		return bestPPSRDO
	}
	return bestFixedRDO
}

// Logger is a passthrough policy that logs a structured description of
// received source capabilities through a *logrus.Entry before delegating to
// a base policy, matching the way package port and cmd/tpmd log every other
// protocol event rather than writing free-form text to a stream.
type Logger struct {
	log  *logrus.Entry
	base Policy
}

// NewLogger creates a Logger that records every EvaluateCapabilities call
// through log and optionally passes it through to base. If base is nil, this
// policy responds with pdmsg.EmptyRequestDO, falling back to package
// policy's default selection.
func NewLogger(log *logrus.Entry, base Policy) *Logger {
	return &Logger{log: log, base: base}
}

// Validate returns nil if the policy is valid.
func (l *Logger) Validate() error {
	if l.base != nil {
		return l.base.Validate()
	}
	return nil
}

// EvaluateCapabilities logs each received power profile as structured
// fields and passes the profile list down to the underlying DPM, returning
// its response.
func (l *Logger) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	for i, p := range pdos {
		fields := logrus.Fields{"index": i + 1}
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			fields["kind"] = "fixed"
			fields["voltage_mv"] = fs.Voltage()
			fields["max_current_ma"] = fs.MaxCurrent()
		case pdmsg.PDOTypeVariableSupply:
			fields["kind"] = "variable (not supported)"
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			fields["kind"] = "pps"
			fields["min_voltage_mv"] = pps.MinVoltage()
			fields["max_voltage_mv"] = pps.MaxVoltage()
			fields["max_current_ma"] = pps.MaxCurrent()
			fields["power_limited"] = pps.IsPowerLimited()
		case pdmsg.PDOTypeBattery:
			fields["kind"] = "battery (not supported)"
		case pdmsg.PDOTypeEPRAVS:
			fields["kind"] = "eprAVS (not supported)"
		default:
			fields["kind"] = "invalid"
		}
		l.log.WithFields(fields).Debug("tcdpm: received source capability")
	}
	if l.base != nil {
		return l.base.EvaluateCapabilities(pdos)
	}
	return pdmsg.EmptyRequestDO
}

// Mode names a built-in Policy kind, used to construct one from daemon
// configuration without the caller importing the concrete types.
type Mode string

// Built-in policy modes usable with NewFromMode.
const (
	ModeNone Mode = ""
	ModeCC   Mode = "cc"
	ModeCV   Mode = "cv"
	ModeCP   Mode = "cp"
)

// Params carries the fields needed to build any of the built-in policies;
// which ones apply depends on Mode.
type Params struct {
	MinVoltageMV uint16
	MaxVoltageMV uint16
	MinCurrentMA uint16 // CC only
	MaxCurrentMA uint16 // CC only
	CurrentMA    uint16 // CV only
	PowerMW      uint16 // CP only
	PreferLowerV bool
	PreferPPS    bool // CV/CP only
}

var errUnknownMode = errors.New("tcdpm: unknown policy mode")

// NewFromMode builds the named built-in Policy from p, validates it, and
// returns it ready for use as a policy.BoardConfig.DPM. ModeNone returns a
// nil Policy and a nil error, leaving the board on package policy's default
// selection.
func NewFromMode(m Mode, p Params) (Policy, error) {
	var policy Policy
	switch m {
	case ModeNone:
		return nil, nil
	case ModeCC:
		policy = &CCPolicy{
			MinVoltage:         p.MinVoltageMV,
			MaxVoltage:         p.MaxVoltageMV,
			MinCurrent:         p.MinCurrentMA,
			MaxCurrent:         p.MaxCurrentMA,
			PreferLowerVoltage: p.PreferLowerV,
		}
	case ModeCV:
		policy = &CVPolicy{
			MinVoltage:         p.MinVoltageMV,
			MaxVoltage:         p.MaxVoltageMV,
			Current:            p.CurrentMA,
			PreferLowerVoltage: p.PreferLowerV,
			PreferPPS:          p.PreferPPS,
		}
	case ModeCP:
		policy = &CPPolicy{
			MinVoltage:         p.MinVoltageMV,
			MaxVoltage:         p.MaxVoltageMV,
			Power:              p.PowerMW,
			PreferLowerVoltage: p.PreferLowerV,
			PreferPPS:          p.PreferPPS,
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownMode, m)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
