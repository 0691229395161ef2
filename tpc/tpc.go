// Package tpc defines the contract the port manager uses to drive a
// physical (or emulated) Type-C Port Controller: the register-level block
// that observes the CC pins, drives VBUS/VCONN, and performs the PHY-level
// framing of USB Power Delivery messages.
//
// The port manager never touches silicon registers directly. It depends
// only on the Interface below, and receives asynchronous notifications
// through a Handle it registers with the driver at Bind time. This mirrors
// how a real TCPC IC is wired: one side drives commands in, the other
// delivers interrupts out, and the two are never called into each other's
// goroutine without going through this boundary.
package tpc

import (
	"errors"

	"github.com/oxplot/go-typec-tpm/pdmsg"
)

// CC represents the state of a single CC line, either as observed
// (resistance presented by the partner) or as commanded (the termination
// this port should present).
type CC uint8

// CC line states.
const (
	CCOpen CC = iota
	CCRa
	CCRd
	CCRpDefault
	CCRp1A5
	CCRp3A0
)

func (c CC) String() string {
	switch c {
	case CCOpen:
		return "Open"
	case CCRa:
		return "Ra"
	case CCRd:
		return "Rd"
	case CCRpDefault:
		return "Rp-Default"
	case CCRp1A5:
		return "Rp-1.5A"
	case CCRp3A0:
		return "Rp-3.0A"
	default:
		return "Invalid"
	}
}

// IsRp reports whether c is any of the three Rp terminations a source
// presents.
func (c CC) IsRp() bool {
	return c == CCRpDefault || c == CCRp1A5 || c == CCRp3A0
}

// Polarity identifies which CC pin carries the CC signal after cable
// orientation has been resolved.
type Polarity uint8

// Polarity values.
const (
	PolarityCC1 Polarity = iota
	PolarityCC2
)

func (p Polarity) String() string {
	if p == PolarityCC2 {
		return "CC2"
	}
	return "CC1"
}

// TxType identifies the kind of transmission requested of PDTransmit.
type TxType uint8

// Transmission types.
const (
	TxSOP TxType = iota
	TxHardReset
	TxBIST2
	TxCableReset
)

func (t TxType) String() string {
	switch t {
	case TxSOP:
		return "SOP"
	case TxHardReset:
		return "HardReset"
	case TxBIST2:
		return "BIST2"
	case TxCableReset:
		return "CableReset"
	default:
		return "Invalid"
	}
}

// TxResult is the outcome of a completed transmission, delivered to
// Handle.OnTxComplete.
type TxResult uint8

// Transmission outcomes.
const (
	TxSuccess TxResult = iota
	TxDiscarded
	TxFailed
)

func (r TxResult) String() string {
	switch r {
	case TxSuccess:
		return "Success"
	case TxDiscarded:
		return "Discarded"
	case TxFailed:
		return "Failed"
	default:
		return "Invalid"
	}
}

// Handle receives asynchronous notifications from a Interface
// implementation. All methods may be called from any goroutine and must
// re-acquire whatever locking the receiver needs; the driver does not
// serialize calls into Handle on the caller's behalf.
type Handle interface {
	// OnCCChange reports a new reading of both CC lines.
	OnCCChange(cc1, cc2 CC)

	// OnVBUS reports a change in VBUS presence.
	OnVBUS(present bool)

	// OnRX delivers a received SOP message. GoodCRC messages are consumed by
	// the driver and never delivered here.
	OnRX(m pdmsg.Message)

	// OnTxComplete reports the outcome of the most recent PDTransmit call.
	OnTxComplete(result TxResult)

	// OnHardReset reports that a hard reset was received from the port
	// partner.
	OnHardReset()
}

// Interface is the set of operations the port manager depends on to drive a
// Type-C Port Controller. Implementations talk to real silicon (see
// tcpcdriver/fusb302) or emulate one for testing.
type Interface interface {
	// Bind registers the handle that receives this driver's asynchronous
	// notifications. Bind is called exactly once, before Init, by the
	// registration facade.
	Bind(h Handle)

	// Init (re-)initializes the controller to a known state: alert sources
	// for CC change, VBUS change, RX, TX done/failed/discarded and hard
	// reset RX are unmasked. Init is idempotent and may be called again
	// after a detected fault to recover.
	Init() error

	// GetVBUS returns whether VBUS is currently present.
	GetVBUS() (bool, error)

	// SetCC commands the termination this port presents on its CC lines.
	SetCC(c CC) error

	// SetPolarity commits which physical CC pin carries the CC signal.
	SetPolarity(p Polarity) error

	// SetVCONN turns the VCONN supply on or off.
	SetVCONN(on bool) error

	// SetPDRx enables or disables reception of SOP and Hard Reset signaling.
	SetPDRx(enable bool) error

	// SetPDHeader sets the power and data role bits the controller stamps
	// onto outgoing message headers and GoodCRC replies.
	SetPDHeader(pwr pdmsg.PowerRole, data pdmsg.DataRole) error

	// PDTransmit asynchronously transmits m (nil for HardReset/CableReset).
	// Completion is reported via Handle.OnTxComplete.
	PDTransmit(t TxType, m *pdmsg.Message) error
}

// ErrNotBound is returned by drivers whose Init or other methods are
// invoked before Bind has registered a Handle.
var ErrNotBound = errors.New("tpc: driver used before Bind")
