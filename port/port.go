// Package port implements the Type-C port state machine: attach/detach
// detection and orientation, source/sink/DRP role decisions, the USB-PD 2.0
// protocol layer, and power/data/VCONN role swaps. This is the ~55% of the
// system the design calls "the heart".
//
// One Port owns one physical receptacle and its TPC. Run must be called
// exactly once per Port and drives the entire state machine from a single
// goroutine; every other exported method is safe to call concurrently. The
// event and swap methods reach that goroutine via its event channel; the
// read accessors take the port mutex and read the current fields.
package port

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/policy"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// Port is one physical Type-C receptacle under management.
type Port struct {
	ID    uuid.UUID
	tpcIf tpc.Interface
	board policy.BoardConfig
	log   *logrus.Entry

	// Observation (§3).
	cc1, cc2    tpc.CC
	vbusPresent bool
	polarity    tpc.Polarity

	// Role (§3). Guarded by mu: Run's goroutine takes mu around every state
	// enter/handle/exit step that may mutate these, matching the lock the
	// typec facade's read accessors take, so there is never an unsynchronized
	// writer.
	mu          sync.Mutex
	powerRole   pdmsg.PowerRole
	dataRole    pdmsg.DataRole
	vconnSource bool
	attached    bool
	explicitContract bool
	pdCapable   bool

	// Set by a state's enter function instead of calling notifyConnect/
	// notifyDisconnect directly, so Run can fire the callback after
	// releasing mu (a callback may call back into the mu-locking accessors).
	// Touched only by Run's goroutine; no lock needed.
	connectPending    bool
	disconnectPending bool

	// Protocol (§3).
	cur, prev      *state
	messageID      uint8
	lastRxID       uint8
	capsCount      int
	hardResetCount int

	// Negotiation (§3).
	sourceCaps    []pdmsg.PDO     // last received Source_Capabilities, decoded (sink side)
	selectedPDO   int             // index into sourceCaps chosen by the policy selector
	sinkRequest   pdmsg.RequestDO // last received Request, to validate (source side)
	ourRequestDO  pdmsg.RequestDO // our own outgoing Request (sink side)

	msgTpl pdmsg.Message // header template: power/data role + revision

	// pendingSwap is the facade-initiated swap currently in flight, if any.
	pendingSwap *swapRequest

	// Timer (invariant 7: at most one outstanding, newest supersedes).
	timer      *time.Timer
	timerArmed bool

	// Event funnel (§4.5). Single consumer: Run's goroutine.
	events chan event

	// TX completion rendezvous (§5 suspension point).
	txMu   sync.Mutex
	txDone chan tpc.TxResult

	callbacks struct {
		mu         sync.Mutex
		connect    func()
		disconnect func()
		transition func(from, to string)
	}
}

// New creates a Port bound to tpcIf and configured per board. Bind is
// called on tpcIf with the returned Port as its Handle; the caller must not
// call tpcIf.Bind itself.
func New(tpcIf tpc.Interface, board policy.BoardConfig, log *logrus.Entry) *Port {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Port{
		ID:     uuid.New(),
		tpcIf:  tpcIf,
		board:  board,
		log:    log,
		events: make(chan event, 32),
		timer:  time.NewTimer(time.Hour),
	}
	p.timer.Stop()
	p.log = log.WithField("port", p.ID.String()[:8])
	p.msgTpl.SetRevision(pdmsg.Revision20)
	tpcIf.Bind(p)
	return p
}

// pinRevision downgrades our outgoing message revision to match a peer that
// advertises something lower, per SPEC_FULL item 5. Revision never climbs
// back up for the life of a connection.
func (p *Port) pinRevision(peer pdmsg.Revision) {
	if peer < p.msgTpl.Revision() {
		p.msgTpl.SetRevision(peer)
	}
}

// SetConnectHandler registers a callback invoked when the port becomes
// attached. Pass nil to clear it.
func (p *Port) SetConnectHandler(f func()) {
	p.callbacks.mu.Lock()
	p.callbacks.connect = f
	p.callbacks.mu.Unlock()
}

// SetDisconnectHandler registers a callback invoked when the port returns
// to an unattached state. Pass nil to clear it.
func (p *Port) SetDisconnectHandler(f func()) {
	p.callbacks.mu.Lock()
	p.callbacks.disconnect = f
	p.callbacks.mu.Unlock()
}

func (p *Port) notifyConnect() {
	p.callbacks.mu.Lock()
	f := p.callbacks.connect
	p.callbacks.mu.Unlock()
	if f != nil {
		f()
	}
}

func (p *Port) notifyDisconnect() {
	p.callbacks.mu.Lock()
	f := p.callbacks.disconnect
	p.callbacks.mu.Unlock()
	if f != nil {
		f()
	}
}

// SetTransitionHandler registers a callback invoked after every state
// transition, named by from/to state name. Intended for metrics and
// debugging; pass nil to clear it.
func (p *Port) SetTransitionHandler(f func(from, to string)) {
	p.callbacks.mu.Lock()
	p.callbacks.transition = f
	p.callbacks.mu.Unlock()
}

func (p *Port) notifyTransition(from, to string) {
	p.callbacks.mu.Lock()
	f := p.callbacks.transition
	p.callbacks.mu.Unlock()
	if f != nil {
		f(from, to)
	}
}

// ---- tpc.Handle ----

// OnCCChange implements tpc.Handle.
func (p *Port) OnCCChange(cc1, cc2 tpc.CC) {
	p.events <- event{kind: evCCChange, cc1: cc1, cc2: cc2}
}

// OnVBUS implements tpc.Handle.
func (p *Port) OnVBUS(present bool) {
	p.events <- event{kind: evVBUS, vbus: present}
}

// OnRX implements tpc.Handle.
func (p *Port) OnRX(m pdmsg.Message) {
	p.events <- event{kind: evRX, msg: m}
}

// OnHardReset implements tpc.Handle.
func (p *Port) OnHardReset() {
	p.events <- event{kind: evHardReset}
}

// OnTxComplete implements tpc.Handle.
func (p *Port) OnTxComplete(result tpc.TxResult) {
	p.txMu.Lock()
	ch := p.txDone
	p.txMu.Unlock()
	if ch != nil {
		select {
		case ch <- result:
		default:
		}
	}
}

// ---- public read accessors, used by the typec facade ----

// PowerRole returns the current power role.
func (p *Port) PowerRole() pdmsg.PowerRole {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.powerRole
}

// DataRole returns the current data role.
func (p *Port) DataRole() pdmsg.DataRole {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataRole
}

// Polarity returns the committed CC polarity.
func (p *Port) Polarity() tpc.Polarity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polarity
}

// Attached returns whether the port currently has a partner attached.
func (p *Port) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

// PDCapable returns whether the attached partner is PD capable.
func (p *Port) PDCapable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pdCapable
}

// ExplicitContract returns whether a PD power contract is currently active.
func (p *Port) ExplicitContract() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.explicitContract
}

// RequestSwap queues a facade-initiated swap request and blocks until it
// completes or ctx is cancelled.
func (p *Port) RequestSwap(ctx context.Context, kind SwapKind) SwapResult {
	done := make(chan SwapResult, 1)
	select {
	case p.events <- event{kind: evSwapRequest, swap: swapRequest{kind: kind, done: done}}:
	case <-ctx.Done():
		return SwapTimeout
	}
	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return SwapTimeout
	}
}

// ---- run loop ----

// Run drives the state machine until ctx is cancelled. Exactly one call to
// Run must be in progress for a given Port at any time.
func (p *Port) Run(ctx context.Context) {
	p.mu.Lock()
	p.cur = p.initialState()
	p.mu.Unlock()
	entering := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var next *state
		var err error

		if entering {
			p.disarmTimer()
			p.mu.Lock()
			next, err = p.cur.runEnter(p)
			p.mu.Unlock()
			entering = false
			p.flushPendingNotifications()
		} else {
			select {
			case <-ctx.Done():
				return
			case ev := <-p.events:
				p.mu.Lock()
				next, err = p.dispatch(ev)
				p.mu.Unlock()
			case <-p.timerChan():
				p.timerArmed = false
				p.mu.Lock()
				next, err = p.cur.runHandle(p, event{kind: evTimerFire})
				p.mu.Unlock()
			}
		}

		if err != nil {
			p.log.WithError(err).WithField("state", p.cur.name).Debug("tpm: state error, routing to hard reset")
			next = p.hardResetSendState()
		}

		if next != nil {
			if p.cur.exit != nil {
				p.mu.Lock()
				eerr := p.cur.exit(p)
				p.mu.Unlock()
				if eerr != nil {
					next = p.hardResetSendState()
				}
			}
			p.log.WithFields(logrus.Fields{"from": p.cur.name, "to": next.name}).Trace("tpm: state transition")
			from, to := p.cur.name, next.name
			p.prev = p.cur
			p.cur = next
			entering = true
			p.notifyTransition(from, to)
		}
	}
}

// flushPendingNotifications fires any connect/disconnect callback a state's
// enter function requested, after mu has been released: a callback (e.g.
// cmd/tpmd's metrics wiring) may call back into the mu-locking accessors,
// and Run's goroutine must never hold mu while that happens.
func (p *Port) flushPendingNotifications() {
	if p.connectPending {
		p.connectPending = false
		p.notifyConnect()
	}
	if p.disconnectPending {
		p.disconnectPending = false
		p.notifyDisconnect()
	}
}

// dispatch applies the small amount of state-independent routing described
// in §4.5/§9 (detach and received-hard-reset always win) before handing the
// event to the resident state's handler.
func (p *Port) dispatch(ev event) (*state, error) {
	switch ev.kind {
	case evCCChange:
		p.cc1, p.cc2 = ev.cc1, ev.cc2
	case evVBUS:
		wasPresent := p.vbusPresent
		p.vbusPresent = ev.vbus
		if wasPresent && !ev.vbus && p.attached && !p.inResetFamily() {
			return p.unattachedStateForRole(), nil
		}
	case evHardReset:
		return p.hardResetStartState(), nil
	case evRX:
		// Discard duplicate messages (retransmits caused by a lost GoodCRC).
		if ev.msg.ID() == p.lastRxID {
			return nil, nil
		}
		p.lastRxID = ev.msg.ID()
	}
	return p.cur.runHandle(p, ev)
}

func (p *Port) inResetFamily() bool {
	switch p.cur {
	case stateHardResetSend, stateHardResetStart,
		stateSrcHardResetVBUSOff, stateSrcHardResetVBUSOn,
		stateSnkHardResetSinkOff, stateSnkHardResetWaitVBUS, stateSnkHardResetSinkOn:
		return true
	default:
		return false
	}
}

// ---- timers ----

func (p *Port) scheduleDelayed(d time.Duration) {
	p.armTimer(d)
}

func (p *Port) armTimer(d time.Duration) {
	p.disarmTimer()
	p.timer.Reset(d)
	p.timerArmed = true
}

func (p *Port) disarmTimer() {
	if !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.timerArmed = false
}

func (p *Port) timerChan() <-chan time.Time {
	if p.timerArmed {
		return p.timer.C
	}
	return nil
}

// ---- message tx/rx helpers ----

func (p *Port) tx(m pdmsg.Message) error {
	m.SetID(p.messageID)
	done := make(chan tpc.TxResult, 1)
	p.txMu.Lock()
	p.txDone = done
	p.txMu.Unlock()

	defer func() {
		p.txMu.Lock()
		p.txDone = nil
		p.txMu.Unlock()
	}()

	if err := p.tpcIf.PDTransmit(tpc.TxSOP, &m); err != nil {
		return err
	}
	select {
	case r := <-done:
		switch r {
		case tpc.TxSuccess:
			p.messageID = (p.messageID + 1) % 8
			return nil
		case tpc.TxDiscarded:
			return errTxDiscarded
		default:
			return errTxFailed
		}
	case <-time.After(tcpcTxTimeout):
		return errTxTimeout
	}
}

func (p *Port) sendReset() error {
	done := make(chan tpc.TxResult, 1)
	p.txMu.Lock()
	p.txDone = done
	p.txMu.Unlock()
	defer func() {
		p.txMu.Lock()
		p.txDone = nil
		p.txMu.Unlock()
	}()

	if err := p.tpcIf.PDTransmit(tpc.TxHardReset, nil); err != nil {
		return err
	}
	select {
	case r := <-done:
		if r != tpc.TxSuccess {
			return errTxFailed
		}
		return nil
	case <-time.After(tcpcTxTimeout):
		return errTxTimeout
	}
}

func (p *Port) sendControl(t pdmsg.Type) error {
	m := p.msgTpl
	m.SetType(t)
	m.SetDataObjectCount(0)
	return p.tx(m)
}

func (p *Port) sendData(t pdmsg.Type, objs ...uint32) error {
	m := p.msgTpl
	m.SetType(t)
	m.SetDataObjectCount(uint8(len(objs)))
	for i, o := range objs {
		m.Data[i] = o
	}
	return p.tx(m)
}

func (p *Port) zeroMessageID() {
	p.messageID = 0
	p.lastRxID = 8 // impossible rx ID: force the next message through
}

// ---- role-symmetric helpers (design note: avoid conflated role paths) ----

func (p *Port) setPowerRole(r pdmsg.PowerRole) {
	p.powerRole = r
	p.msgTpl.SetPowerRole(r)
	_ = p.tpcIf.SetPDHeader(p.powerRole, p.dataRole)
}

func (p *Port) setDataRole(r pdmsg.DataRole) {
	p.dataRole = r
	p.msgTpl.SetDataRole(r)
	_ = p.tpcIf.SetPDHeader(p.powerRole, p.dataRole)
}

// readyState returns SRC_READY or SNK_READY based on the current power
// role.
func (p *Port) readyState() *state {
	if p.powerRole == pdmsg.PowerRoleSource {
		return stateSrcReady
	}
	return stateSnkReady
}

// hardResetSendState returns the state a locally-initiated hard reset
// enters for the current power role.
func (p *Port) hardResetSendState() *state {
	return stateHardResetSend
}

// hardResetStartState is entered when the partner sends us a hard reset.
func (p *Port) hardResetStartState() *state {
	return stateHardResetStart
}

// unattachedStateForRole returns the role-appropriate *_UNATTACHED state,
// used both for normal detach and for exceeding the hard-reset cap.
func (p *Port) unattachedStateForRole() *state {
	switch p.board.PortType {
	case policy.PortTypeSource:
		return stateSrcUnattached
	case policy.PortTypeSink:
		return stateSnkUnattached
	default: // DRP: return to whichever role we were last, default on first run
		if p.powerRole == pdmsg.PowerRoleSource {
			return stateSrcUnattached
		}
		return stateSnkUnattached
	}
}

// returnState is the state a service state (GIVE_SOURCE_CAPS, GIVE_SINK_CAPS)
// hands back to once it has replied, per SPEC_FULL item 2 ("returning to the
// state it was in").
func (p *Port) returnState() *state {
	if p.prev != nil {
		return p.prev
	}
	return p.readyState()
}

func (p *Port) initialState() *state {
	switch p.board.PortType {
	case policy.PortTypeSource:
		return stateSrcUnattached
	case policy.PortTypeSink:
		return stateSnkUnattached
	default:
		if p.board.DefaultRole == pdmsg.PowerRoleSource {
			return stateSrcUnattached
		}
		return stateSnkUnattached
	}
}
