// Package tpcsim implements an in-memory tpc.Interface for exercising
// package port without real silicon, used by the port package's tests.
package tpcsim

import (
	"sync"

	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// TPC is a fake Type-C Port Controller. Tests drive it by calling its
// Deliver* methods, which forward to the bound tpc.Handle synchronously
// (there is no real silicon latency to simulate).
type TPC struct {
	mu sync.Mutex

	handle tpc.Handle
	vbus   bool
	cc     tpc.CC
	pol    tpc.Polarity
	vconn  bool
	pdRx   bool
	pwr    pdmsg.PowerRole
	data   pdmsg.DataRole

	// NextTxResult is returned via OnTxComplete for the next PDTransmit call,
	// defaulting to tpc.TxSuccess. Tests can set it to simulate a failure.
	NextTxResult tpc.TxResult

	// Sent records every message or reset handed to PDTransmit, in order.
	Sent []Transmission
}

// Transmission is one call to PDTransmit, recorded for test assertions.
type Transmission struct {
	Type    tpc.TxType
	Message pdmsg.Message
}

// New returns a fresh simulated controller with TxSuccess as the default
// transmit outcome.
func New() *TPC {
	return &TPC{NextTxResult: tpc.TxSuccess}
}

// Bind implements tpc.Interface.
func (t *TPC) Bind(h tpc.Handle) {
	t.mu.Lock()
	t.handle = h
	t.mu.Unlock()
}

// Init implements tpc.Interface.
func (t *TPC) Init() error {
	return nil
}

// GetVBUS implements tpc.Interface.
func (t *TPC) GetVBUS() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vbus, nil
}

// SetCC implements tpc.Interface.
func (t *TPC) SetCC(c tpc.CC) error {
	t.mu.Lock()
	t.cc = c
	t.mu.Unlock()
	return nil
}

// SetPolarity implements tpc.Interface.
func (t *TPC) SetPolarity(p tpc.Polarity) error {
	t.mu.Lock()
	t.pol = p
	t.mu.Unlock()
	return nil
}

// SetVCONN implements tpc.Interface.
func (t *TPC) SetVCONN(on bool) error {
	t.mu.Lock()
	t.vconn = on
	t.mu.Unlock()
	return nil
}

// SetPDRx implements tpc.Interface.
func (t *TPC) SetPDRx(enable bool) error {
	t.mu.Lock()
	t.pdRx = enable
	t.mu.Unlock()
	return nil
}

// SetPDHeader implements tpc.Interface.
func (t *TPC) SetPDHeader(pwr pdmsg.PowerRole, data pdmsg.DataRole) error {
	t.mu.Lock()
	t.pwr, t.data = pwr, data
	t.mu.Unlock()
	return nil
}

// PDTransmit implements tpc.Interface. It records the transmission and
// reports NextTxResult back through the bound Handle.
func (t *TPC) PDTransmit(tt tpc.TxType, m *pdmsg.Message) error {
	t.mu.Lock()
	var msg pdmsg.Message
	if m != nil {
		msg = *m
	}
	t.Sent = append(t.Sent, Transmission{Type: tt, Message: msg})
	h := t.handle
	result := t.NextTxResult
	t.mu.Unlock()
	if h != nil {
		h.OnTxComplete(result)
	}
	return nil
}

// DeliverCC reports a CC line change to the bound Handle.
func (t *TPC) DeliverCC(cc1, cc2 tpc.CC) {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	if h != nil {
		h.OnCCChange(cc1, cc2)
	}
}

// DeliverVBUS reports a VBUS presence change to the bound Handle and
// updates what GetVBUS subsequently returns.
func (t *TPC) DeliverVBUS(present bool) {
	t.mu.Lock()
	t.vbus = present
	h := t.handle
	t.mu.Unlock()
	if h != nil {
		h.OnVBUS(present)
	}
}

// DeliverRX delivers a received message to the bound Handle.
func (t *TPC) DeliverRX(m pdmsg.Message) {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	if h != nil {
		h.OnRX(m)
	}
}

// DeliverHardReset reports a received hard reset to the bound Handle.
func (t *TPC) DeliverHardReset() {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	if h != nil {
		h.OnHardReset()
	}
}

// LastSent returns the most recently transmitted message, and true if there
// has been at least one.
func (t *TPC) LastSent() (Transmission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Sent) == 0 {
		return Transmission{}, false
	}
	return t.Sent[len(t.Sent)-1], true
}
