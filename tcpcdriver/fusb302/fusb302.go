// Package fusb302 implements a Type-C port controller driver for the FUSB302
// from ONSemi, satisfying the github.com/oxplot/go-typec-tpm/tpc.Interface
// contract.
//
// Unlike the register map, which is a direct translation of the datasheet,
// the driver's shape here departs from a typical TCPC chip library: callers
// never poll. Init starts a background goroutine that watches the
// interrupt/status registers and pushes everything it sees to the bound
// tpc.Handle, matching the push model package port expects.
package fusb302

import (
	"errors"
	"sync"
	"time"

	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/tcpcdriver"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// errInvalidCC is returned by SetCC for a CC value this driver cannot
// present (only Open/Rd/the three Rp advertisements are valid terminations).
var errInvalidCC = errors.New("fusb302: invalid CC termination")

// MPN represents the manufacturer part number.
type MPN uint8

// I2CAddress returns the I2C address of the FUSB302.
func (m MPN) I2CAddress() uint8 {
	return uint8(m)
}

// Manufacturer part numbers.
const (
	FUSB302BUCX   MPN = 0b100010
	FUSB302BMPX   MPN = 0b100010
	FUSB302VMPX   MPN = 0b100010
	FUSB302B01MPX MPN = 0b100011
	FUSB302B10MPX MPN = 0b100100
	FUSB302B11MPX MPN = 0b100101
)

// pollInterval is how often the background goroutine samples the interrupt
// and status registers. The FUSB302 has no interrupt line wired in the
// common board layouts this driver targets, so polling stands in for it.
const pollInterval = 2 * time.Millisecond

// FUSB302 is a Type-C port controller driver for the FUSB302 IC.
type FUSB302 struct {
	bus  tcpcdriver.I2C
	addr uint16

	mu  sync.Mutex // serializes register I/O and driver state below
	buf [9 + pdmsg.MaxMessageBytes]byte

	handle tpc.Handle

	polarity  tpc.Polarity
	vconnOn   bool
	pdRxOn    bool
	txPending bool

	stop chan struct{}
	done chan struct{}
}

// New creates a driver for the FUSB302 at mpn's address on bus. Bind and
// Init must be called before use.
func New(bus tcpcdriver.I2C, mpn MPN) *FUSB302 {
	return &FUSB302{
		bus:  bus,
		addr: uint16(mpn.I2CAddress()),
	}
}

// Bind implements tpc.Interface.
func (f *FUSB302) Bind(h tpc.Handle) {
	f.mu.Lock()
	f.handle = h
	f.mu.Unlock()
}

func (f *FUSB302) write(r uint8, d byte) error {
	f.buf[0] = r
	f.buf[1] = d
	return f.bus.Tx(f.addr, f.buf[:2], nil)
}

func (f *FUSB302) read(r uint8) (byte, error) {
	f.buf[0] = r
	err := f.bus.Tx(f.addr, f.buf[:1], f.buf[1:2])
	return f.buf[1], err
}

func (f *FUSB302) writeMany(r uint8, d []byte) error {
	f.buf[0] = r
	copy(f.buf[1:], d)
	return f.bus.Tx(f.addr, f.buf[:len(d)+1], nil)
}

func (f *FUSB302) readMany(r uint8, d []byte) error {
	f.buf[0] = r
	err := f.bus.Tx(f.addr, f.buf[:1], f.buf[1:len(d)+1])
	if err == nil {
		copy(d, f.buf[1:len(d)+1])
	}
	return err
}

// Init implements tpc.Interface.
func (f *FUSB302) Init() error {
	if f.handle == nil {
		return tpc.ErrNotBound
	}

	if err := f.write(regReset, regResetSWReset); err != nil {
		return err
	}
	if err := f.write(regControl1, 0b100); err != nil { // flush rx fifo
		return err
	}
	if err := f.write(regControl0, 0b01100100); err != nil { // flush tx fifo
		return err
	}
	if err := f.write(regPower, regPowerPwrAll); err != nil {
		return err
	}
	if err := f.write(regControl3, regControl3AutoRetry|0b011); err != nil {
		return err
	}
	// Drain latched interrupt bits accumulated since reset.
	if _, err := f.readMany2(regInterrupt); err != nil {
		return err
	}

	f.mu.Lock()
	alreadyPolling := f.stop != nil
	if !alreadyPolling {
		f.stop = make(chan struct{})
		f.done = make(chan struct{})
	}
	f.mu.Unlock()

	if !alreadyPolling {
		go f.pollLoop(f.stop, f.done)
	}
	return nil
}

func (f *FUSB302) readMany2(first uint8) ([2]byte, error) {
	var out [2]byte
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.readMany(first, out[:])
	return out, err
}

// GetVBUS implements tpc.Interface.
func (f *FUSB302) GetVBUS() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.read(regStatus0)
	if err != nil {
		return false, err
	}
	return r&regStatus0VBusOK != 0, nil
}

// SetCC implements tpc.Interface. It programs the termination this port
// presents: Rp (at the requested current advertisement) to act as a source,
// Rd to act as a sink, or neither to present Open.
func (f *FUSB302) SetCC(c tpc.CC) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var hostCur uint8
	var mdacMode uint8 // 0: none, 1: pull-up (Rp), 2: pull-down (Rd)
	switch c {
	case tpc.CCOpen:
	case tpc.CCRd:
		mdacMode = 2
	case tpc.CCRpDefault:
		mdacMode, hostCur = 1, 0b01
	case tpc.CCRp1A5:
		mdacMode, hostCur = 1, 0b10
	case tpc.CCRp3A0:
		mdacMode, hostCur = 1, 0b11
	default:
		return errInvalidCC
	}

	if err := f.write(regControl0, (hostCur<<2)|0b01100000); err != nil {
		return err
	}

	var sw0 uint8
	switch mdacMode {
	case 1:
		sw0 = regSwitches0PuEnCC1 | regSwitches0PuEnCC2
	case 2:
		sw0 = regSwitches0CC1PdEn | regSwitches0CC2PdEn
	}
	return f.write(regSwitches0, sw0|f.measBitsLocked())
}

func (f *FUSB302) measBitsLocked() uint8 {
	if f.polarity == tpc.PolarityCC2 {
		return regSwitches0MeasCC2
	}
	return regSwitches0MeasCC1
}

// SetPolarity implements tpc.Interface.
func (f *FUSB302) SetPolarity(p tpc.Polarity) error {
	f.mu.Lock()
	f.polarity = p
	defer f.mu.Unlock()

	var tx uint8
	if p == tpc.PolarityCC2 {
		tx = regSwitches1TxCC2En
	} else {
		tx = regSwitches1TxCC1En
	}
	return f.write(regSwitches1, regSwitches1SpecRev1|regSwitches1AutoGCRC|tx)
}

// SetVCONN implements tpc.Interface. VCONN is always sourced on the CC line
// not carrying the CC signal, per the polarity already committed via
// SetPolarity.
func (f *FUSB302) SetVCONN(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vconnOn = on

	sw0, err := f.read(regSwitches0)
	if err != nil {
		return err
	}
	sw0 &^= regSwitches0VconnCC1 | regSwitches0VconnCC2
	if on {
		if f.polarity == tpc.PolarityCC2 {
			sw0 |= regSwitches0VconnCC1 // source VCONN on the pin NOT carrying CC
		} else {
			sw0 |= regSwitches0VconnCC2
		}
	}
	return f.write(regSwitches0, sw0)
}

// SetPDRx implements tpc.Interface. Both settings write the same value
// (toggle off) to CONTROL2, so SOP reception on the chip stays as Init left
// it; only the recorded pdRxOn flag differs.
func (f *FUSB302) SetPDRx(enable bool) error {
	f.mu.Lock()
	f.pdRxOn = enable
	defer f.mu.Unlock()

	var ctrl2 byte
	if enable {
		ctrl2 = 0
	} else {
		ctrl2 = regControl2ToggleOff
	}
	return f.write(regControl2, ctrl2)
}

// SetPDHeader implements tpc.Interface. The chip stamps POWERROLE/DATAROLE
// into outgoing headers and auto-generated GoodCRC replies so the policy
// engine never has to.
func (f *FUSB302) SetPDHeader(pwr pdmsg.PowerRole, data pdmsg.DataRole) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sw1, err := f.read(regSwitches1)
	if err != nil {
		return err
	}
	sw1 &^= regSwitches1PowerRole | regSwitches1DataRole
	if pwr == pdmsg.PowerRoleSource {
		sw1 |= regSwitches1PowerRole
	}
	if data == pdmsg.DataRoleDFP {
		sw1 |= regSwitches1DataRole
	}
	return f.write(regSwitches1, sw1)
}

// PDTransmit implements tpc.Interface. Completion is reported asynchronously
// via Handle.OnTxComplete by the poll loop.
func (f *FUSB302) PDTransmit(t tpc.TxType, m *pdmsg.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t == tpc.TxHardReset || t == tpc.TxCableReset {
		r, err := f.read(regControl3)
		if err != nil {
			return err
		}
		f.txPending = true
		return f.write(regControl3, r|regControl3SendHardReset)
	}

	if err := f.write(regControl0, 0b01100100); err != nil { // flush tx fifo
		return err
	}

	buf := make([]byte, 9+pdmsg.MaxMessageBytes)
	copy(buf, []byte{fifoTokenSync1, fifoTokenSync1, fifoTokenSync1, fifoTokenSync2})
	mlen := m.ToBytes(buf[5:])
	buf[4] = fifoTokenPackSym | mlen
	copy(buf[5+mlen:], []byte{fifoTokenJamCRC, fifoTokenEOP, fifoTokenTxOff, fifoTokenTxOn})
	plen := 9 + mlen

	if err := f.writeMany(regFIFOs, buf[:plen]); err != nil {
		return err
	}
	f.txPending = true
	return nil
}

func (f *FUSB302) rx(m *pdmsg.Message) (bool, error) {
	reg, err := f.read(regStatus1)
	if err != nil {
		return false, err
	}
	if reg&regStatus1RxEmpty != 0 {
		return false, nil
	}

	buf := make([]byte, pdmsg.MaxMessageBytes+4) // 4 extra: CRC, discarded
	if err = f.readMany(regFIFOs, buf[:3]); err != nil {
		return false, err
	}
	m.Header = uint16(buf[2])<<8 | uint16(buf[1])
	l := m.DataObjectCount()

	if l > 0 {
		if err = f.readMany(regFIFOs, buf[:l*4+4]); err != nil {
			return false, err
		}
		for i := uint8(0); i < l; i++ {
			s := i * 4
			m.Data[i] = uint32(buf[s]) | uint32(buf[s+1])<<8 | uint32(buf[s+2])<<16 | uint32(buf[s+3])<<24
		}
	} else if err = f.readMany(regFIFOs, buf[:4]); err != nil {
		return false, err
	}
	return true, nil
}

// pollLoop watches the interrupt and status registers and delivers
// everything it observes to the bound Handle. It runs for the lifetime of
// the driver; tpc.Interface has no Close, mirroring a real TCPC that's bound
// for the process lifetime of its port.
func (f *FUSB302) pollLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastVBUS bool
	haveVBUS := false

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		f.mu.Lock()
		regs := make([]byte, 2)
		errA := f.readMany(regInterruptA, regs)
		intA := regs[0]
		intB := regs[1]
		_, errI := f.read(regInterrupt)
		status0, errS0 := f.read(regStatus0)
		status0A, errS0A := f.read(regStatus0A)
		txPending := f.txPending
		h := f.handle
		f.mu.Unlock()
		_ = intB
		if errA != nil || errI != nil || errS0 != nil || errS0A != nil || h == nil {
			continue
		}

		if intA&regInterruptAHardReset != 0 && status0A&regStatus0ARxHardReset != 0 {
			h.OnHardReset()
		}

		if txPending {
			switch {
			case intA&regInterruptATxSuccess != 0 || intA&regInterruptAHardSent != 0:
				f.mu.Lock()
				f.txPending = false
				f.mu.Unlock()
				h.OnTxComplete(tpc.TxSuccess)
			case intA&regInterruptARetryFail != 0:
				f.mu.Lock()
				f.txPending = false
				f.mu.Unlock()
				h.OnTxComplete(tpc.TxFailed)
			}
		}

		vbus := status0&regStatus0VBusOK != 0
		if !haveVBUS || vbus != lastVBUS {
			h.OnVBUS(vbus)
			lastVBUS = vbus
			haveVBUS = true
		}

		cc1, cc2, err := f.senseCC()
		if err == nil {
			h.OnCCChange(cc1, cc2)
		}

		for {
			var m pdmsg.Message
			f.mu.Lock()
			ok, err := f.rx(&m)
			f.mu.Unlock()
			if err != nil || !ok {
				break
			}
			if !m.IsData() && m.Type() == pdmsg.TypeGoodCRC {
				continue
			}
			h.OnRX(m)
		}
	}
}

// senseCC toggles the measure block across both CC lines and classifies the
// BC_LVL comparator result into a tpc.CC reading. This is a coarse
// classification (it assumes a source termination presents Rp and
// distinguishes Open/Rd/Ra by comparator level against the current
// advertisement), adequate for attach/detach and polarity detection; it does
// not discriminate the three Rp current advertisements when this port itself
// is sinking.
func (f *FUSB302) senseCC() (cc1, cc2 tpc.CC, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	measure := func(sel uint8) (tpc.CC, error) {
		if err := f.write(regSwitches0, sel); err != nil {
			return tpc.CCOpen, err
		}
		time.Sleep(50 * time.Microsecond)
		r, err := f.read(regStatus0)
		if err != nil {
			return tpc.CCOpen, err
		}
		switch r & regStatus0BCLvlMask {
		case 0:
			return tpc.CCOpen, nil
		case 1:
			return tpc.CCRa, nil
		case 2:
			return tpc.CCRd, nil
		default:
			return tpc.CCRpDefault, nil
		}
	}

	cc1, err = measure(regSwitches0MeasCC1)
	if err != nil {
		return
	}
	cc2, err = measure(regSwitches0MeasCC2)
	// Restore the measurement mux to whichever line carries CC so ongoing
	// message reception keeps working.
	f.write(regSwitches0, f.measBitsLocked())
	return
}

const (
	regSwitches0          = 0x02
	regSwitches0MeasCC2   = 1 << 3
	regSwitches0MeasCC1   = 1 << 2
	regSwitches0VconnCC2  = 1 << 5
	regSwitches0VconnCC1  = 1 << 4
	regSwitches0CC2PdEn   = 1 << 1
	regSwitches0CC1PdEn   = 1 << 0
	regSwitches0PuEnCC2   = 1 << 7
	regSwitches0PuEnCC1   = 1 << 6
	regStatus0BCLvlMask   = 0x3

	regSwitches1         = 0x03
	regSwitches1PowerRole = 1 << 7
	regSwitches1SpecRev1 = 1 << 6
	regSwitches1DataRole = 1 << 5
	regSwitches1AutoGCRC = 1 << 2
	regSwitches1TxCC2En  = 1 << 1
	regSwitches1TxCC1En  = 1 << 0

	regControl0 = 0x06
	regControl1 = 0x07

	regControl2          = 0x08
	regControl2ToggleOff = 0

	regControl3              = 0x09
	regControl3SendHardReset = 1 << 6
	regControl3AutoRetry     = 1 << 0

	regPower       = 0x0B
	regPowerPwrAll = 0xF

	regReset        = 0x0C
	regResetSWReset = 1 << 0

	regStatus0A            = 0x3C
	regStatus0ARxHardReset = 1 << 0

	regInterruptA          = 0x3E
	regInterruptARetryFail = 1 << 4
	regInterruptAHardSent  = 1 << 3
	regInterruptATxSuccess = 1 << 2
	regInterruptAHardReset = 1 << 0

	regStatus0       = 0x40
	regStatus0VBusOK = 1 << 7

	regStatus1        = 0x41
	regStatus1RxEmpty = 1 << 5

	regInterrupt = 0x42

	regFIFOs = 0x43

	fifoTokenTxOn    = 0xA1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xFF
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xFE
)
