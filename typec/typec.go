// Package typec is the externally visible port object (§4.6): the surface
// a power manager or user-space daemon actually talks to. It wraps a
// port.Port, exposing read-only role/polarity attributes and the blocking
// dr_swap/pr_swap/vconn_swap operations, plus register/unregister and
// connect/disconnect notification hooks.
package typec

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/policy"
	"github.com/oxplot/go-typec-tpm/port"
	"github.com/oxplot/go-typec-tpm/tpc"
)

// PowerOpMode describes whether the port is running bare USB default power
// or has an explicit PD contract in force.
type PowerOpMode uint8

// Power operating modes.
const (
	PowerOpModeUSB PowerOpMode = iota
	PowerOpModePD
)

func (m PowerOpMode) String() string {
	if m == PowerOpModePD {
		return "PD"
	}
	return "USB"
}

// Swap errors surfaced to facade callers, mirroring the EAGAIN/EINVAL/
// ETIMEDOUT surface named in spec §4.6/§7.
var (
	ErrSwapTimeout   = errors.New("typec: swap timed out")
	ErrSwapRejected  = errors.New("typec: swap rejected by peer")
	ErrSwapCancelled = errors.New("typec: swap cancelled")
	ErrSwapInvalid   = errors.New("typec: swap not valid in current port state")
	ErrNotDRP        = errors.New("typec: port is not configured as DRP")
)

// Port is the registered, externally visible Type-C port object.
type Port struct {
	p    *port.Port
	cfg  policy.BoardConfig
	log  *logrus.Entry
	stop context.CancelFunc
}

// Register creates and starts a Port bound to tpcIf, running its state
// machine in a new goroutine, and returns the facade object. The returned
// Port must eventually be passed to Unregister.
func Register(tpcIf tpc.Interface, board policy.BoardConfig, log *logrus.Entry) (*Port, error) {
	pp := port.New(tpcIf, board, log)
	if err := tpcIf.Init(); err != nil {
		return nil, fmt.Errorf("typec: tpc init: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Port{p: pp, cfg: board, log: log, stop: cancel}
	go pp.Run(ctx)
	return t, nil
}

// Unregister stops the port's state machine. The underlying TPC is left as
// is; callers own its lifecycle.
func (t *Port) Unregister() {
	t.stop()
}

// PowerRole returns the current power role.
func (t *Port) PowerRole() pdmsg.PowerRole { return t.p.PowerRole() }

// DataRole returns the current data role.
func (t *Port) DataRole() pdmsg.DataRole { return t.p.DataRole() }

// Polarity returns the committed CC polarity.
func (t *Port) Polarity() tpc.Polarity { return t.p.Polarity() }

// Attached reports whether a partner is currently attached.
func (t *Port) Attached() bool { return t.p.Attached() }

// PowerOpMode reports whether an explicit PD contract is in force.
func (t *Port) PowerOpMode() PowerOpMode {
	if t.p.ExplicitContract() {
		return PowerOpModePD
	}
	return PowerOpModeUSB
}

// SetConnectHandler registers a callback invoked when the port attaches.
func (t *Port) SetConnectHandler(f func()) { t.p.SetConnectHandler(f) }

// SetDisconnectHandler registers a callback invoked when the port detaches.
func (t *Port) SetDisconnectHandler(f func()) { t.p.SetDisconnectHandler(f) }

// SetTransitionHandler registers a callback invoked after every state
// machine transition, named by from/to state name.
func (t *Port) SetTransitionHandler(f func(from, to string)) { t.p.SetTransitionHandler(f) }

// ID returns the port's unique identifier, stable for its process lifetime.
func (t *Port) ID() string { return t.p.ID.String() }

func (t *Port) swap(ctx context.Context, kind port.SwapKind) error {
	if t.cfg.PortType != policy.PortTypeDRP {
		return ErrNotDRP
	}
	switch t.p.RequestSwap(ctx, kind) {
	case port.SwapOK:
		return nil
	case port.SwapTimeout:
		return ErrSwapTimeout
	case port.SwapRejected:
		return ErrSwapRejected
	case port.SwapCancelled:
		return ErrSwapCancelled
	default:
		return ErrSwapInvalid
	}
}

// DRSwap requests a data-role swap and blocks until it completes, is
// rejected, times out, or ctx is cancelled.
func (t *Port) DRSwap(ctx context.Context) error { return t.swap(ctx, port.SwapKindDR) }

// PRSwap requests a power-role swap and blocks until it completes, is
// rejected, times out, or ctx is cancelled.
func (t *Port) PRSwap(ctx context.Context) error { return t.swap(ctx, port.SwapKindPR) }

// VCONNSwap requests a VCONN-source swap and blocks until it completes, is
// rejected, times out, or ctx is cancelled.
func (t *Port) VCONNSwap(ctx context.Context) error { return t.swap(ctx, port.SwapKindVCONN) }
