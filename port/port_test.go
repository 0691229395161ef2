package port

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/policy"
	"github.com/oxplot/go-typec-tpm/tpc"
	"github.com/oxplot/go-typec-tpm/tpc/tpcsim"
)

func fixedPDO(mv, ma uint16) pdmsg.PDO {
	p := pdmsg.NewFixedSupplyPDO()
	p.SetVoltage(mv)
	p.SetMaxCurrent(ma)
	return pdmsg.PDO(p)
}

func controlMsg(id uint8, t pdmsg.Type) pdmsg.Message {
	var m pdmsg.Message
	m.SetID(id)
	m.SetDataObjectCount(0)
	m.SetType(t)
	return m
}

func dataMsg(id uint8, t pdmsg.Type, objs ...uint32) pdmsg.Message {
	var m pdmsg.Message
	m.SetID(id)
	m.SetDataObjectCount(uint8(len(objs)))
	m.SetType(t)
	for i, o := range objs {
		m.Data[i] = o
	}
	return m
}

func startPort(t *testing.T, board policy.BoardConfig) (*Port, *tpcsim.TPC, context.CancelFunc) {
	t.Helper()
	sim := tpcsim.New()
	p := New(sim, board, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(cancel)
	return p, sim, cancel
}

func TestSinkAttachAndBasicContract(t *testing.T) {
	board := policy.BoardConfig{
		PortType:       policy.PortTypeSink,
		SnkPDO:         []pdmsg.PDO{fixedPDO(5000, 3000)},
		MaxSnkMV:       20000,
		OperatingSnkMW: 5000,
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverVBUS(true)
	sim.DeliverCC(tpc.CCRpDefault, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond, "port should attach")

	_, sentEarly := sim.LastSent()
	require.False(t, sentEarly, "sink transmitted before receiving source caps")

	sim.DeliverRX(dataMsg(0, pdmsg.TypeSourceCap, uint32(fixedPDO(5000, 3000))))

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && last.Type == tpc.TxSOP && last.Message.IsData() && last.Message.Type() == pdmsg.TypeRequest
	}, time.Second, time.Millisecond, "sink never sent a request after receiving source caps")

	sim.DeliverRX(controlMsg(1, pdmsg.TypeAccept))
	sim.DeliverRX(controlMsg(2, pdmsg.TypePSReady))

	require.Eventually(t, func() bool {
		return p.ExplicitContract()
	}, time.Second, time.Millisecond, "sink never reached an explicit contract")

	assert.Equal(t, pdmsg.PowerRoleSink, p.PowerRole())
	assert.Equal(t, pdmsg.DataRoleUFP, p.DataRole())
	assert.True(t, p.PDCapable())
}

func TestSourceRejectsOverspecRequest(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSource,
		SrcPDO:   []pdmsg.PDO{fixedPDO(5000, 900)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverCC(tpc.CCRd, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond, "source should attach to a sink")

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && last.Message.Type() == pdmsg.TypeSourceCap
	}, time.Second, time.Millisecond, "source never advertised its capabilities")

	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(3000) // above the advertised 900mA
	rdo.SetFixedMaxOperatingCurrent(3000)
	sim.DeliverRX(dataMsg(0, pdmsg.TypeRequest, uint32(rdo)))

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && !last.Message.IsData() && last.Message.Type() == pdmsg.TypeReject
	}, time.Second, time.Millisecond, "source never rejected the overspec request")

	assert.False(t, p.ExplicitContract())
}

func TestReceivedHardResetsWithoutVBUSReturnToUnattached(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSink,
		SnkPDO:   []pdmsg.PDO{fixedPDO(5000, 3000)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverVBUS(true)
	sim.DeliverCC(tpc.CCRpDefault, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond)

	// Never send source caps; instead deliver more received hard resets than
	// nHardResetCount in quick succession. A received hard reset doesn't count toward
	// nHardResetCount (that's the sending port's budget, not ours), but
	// without VBUS ever reappearing the recovery sequence times out on its
	// own and the port gives up back to unattached.
	for i := 0; i < nHardResetCount+1; i++ {
		sim.DeliverHardReset()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return !p.Attached()
	}, 2*time.Second, time.Millisecond, "port never gave up and returned to unattached")
}

func TestReceivedHardResetDoesNotIncrementCount(t *testing.T) {
	p := New(tpcsim.New(), policy.BoardConfig{PortType: policy.PortTypeSink}, nil)
	p.powerRole = pdmsg.PowerRoleSink

	for i := 0; i < nHardResetCount+5; i++ {
		_, err := stateHardResetStart.enter(p)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, p.hardResetCount, "a partner-received hard reset must not count toward the sent-hard-reset cap")
}

func TestSentHardResetIncrementsAndCapsCount(t *testing.T) {
	p := New(tpcsim.New(), policy.BoardConfig{PortType: policy.PortTypeSink}, nil)
	p.powerRole = pdmsg.PowerRoleSink

	next, err := stateHardResetSend.enter(p)
	require.NoError(t, err)
	assert.Equal(t, 1, p.hardResetCount)
	assert.Equal(t, stateSnkHardResetSinkOff, next)

	for p.hardResetCount <= nHardResetCount {
		next, err = stateHardResetSend.enter(p)
		require.NoError(t, err)
	}
	assert.Equal(t, p.unattachedStateForRole(), next, "exceeding the cap on a sent hard reset gives up to unattached")
}

func TestDRSwapSucceeds(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSource,
		SrcPDO:   []pdmsg.PDO{fixedPDO(5000, 900)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverCC(tpc.CCRd, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && last.Message.Type() == pdmsg.TypeSourceCap
	}, time.Second, time.Millisecond)

	// Negotiate a contract first so the swap isn't cancelled for lack of PD.
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(500)
	rdo.SetFixedMaxOperatingCurrent(900)
	sim.DeliverRX(dataMsg(0, pdmsg.TypeRequest, uint32(rdo)))

	require.Eventually(t, func() bool {
		return p.ExplicitContract()
	}, time.Second, time.Millisecond)

	require.Equal(t, pdmsg.DataRoleDFP, p.DataRole())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan SwapResult, 1)
	go func() {
		resultCh <- p.RequestSwap(ctx, SwapKindDR)
	}()

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && !last.Message.IsData() && last.Message.Type() == pdmsg.TypeDRSwap
	}, time.Second, time.Millisecond, "port never sent a DR_Swap")

	sim.DeliverRX(controlMsg(1, pdmsg.TypeAccept))

	select {
	case r := <-resultCh:
		assert.Equal(t, SwapOK, r)
	case <-time.After(time.Second):
		t.Fatal("dr swap never completed")
	}
	assert.Equal(t, pdmsg.DataRoleUFP, p.DataRole())
}

func TestPRSwapTimesOut(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSource,
		SrcPDO:   []pdmsg.PDO{fixedPDO(5000, 900)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverCC(tpc.CCRd, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && last.Message.Type() == pdmsg.TypeSourceCap
	}, time.Second, time.Millisecond)

	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(500)
	rdo.SetFixedMaxOperatingCurrent(900)
	sim.DeliverRX(dataMsg(0, pdmsg.TypeRequest, uint32(rdo)))

	require.Eventually(t, func() bool {
		return p.ExplicitContract()
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Never reply to the PR_Swap: tSenderResponse should expire and the
	// swap resolves as a timeout rather than hanging forever.
	result := p.RequestSwap(ctx, SwapKindPR)
	assert.Equal(t, SwapTimeout, result)
	assert.Equal(t, pdmsg.PowerRoleSource, p.PowerRole())
}

func TestDebugAccessoryDetected(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSource,
		SrcPDO:   []pdmsg.PDO{fixedPDO(5000, 900)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverCC(tpc.CCRd, tpc.CCRd)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond, "debug accessory should report attached")

	assert.False(t, p.PDCapable())
}

func TestAudioAccessoryDebounceAndDeparture(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSource,
		SrcPDO:   []pdmsg.PDO{fixedPDO(5000, 900)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverCC(tpc.CCRa, tpc.CCRa)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond, "audio accessory should report attached")

	sim.DeliverCC(tpc.CCOpen, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return !p.Attached()
	}, time.Second, time.Millisecond, "audio accessory departure should clear attached")
}

func TestSinkPinsRevisionDownToSourceCap(t *testing.T) {
	board := policy.BoardConfig{
		PortType: policy.PortTypeSink,
		SnkPDO:   []pdmsg.PDO{fixedPDO(5000, 3000)},
	}
	p, sim, _ := startPort(t, board)

	sim.DeliverVBUS(true)
	sim.DeliverCC(tpc.CCRpDefault, tpc.CCOpen)

	require.Eventually(t, func() bool {
		return p.Attached()
	}, time.Second, time.Millisecond)

	srcCap := dataMsg(0, pdmsg.TypeSourceCap, uint32(fixedPDO(5000, 3000)))
	srcCap.SetRevision(pdmsg.Revision10)
	sim.DeliverRX(srcCap)

	require.Eventually(t, func() bool {
		last, ok := sim.LastSent()
		return ok && last.Message.IsData() && last.Message.Type() == pdmsg.TypeRequest
	}, time.Second, time.Millisecond, "sink never sent a request")

	last, _ := sim.LastSent()
	assert.Equal(t, pdmsg.Revision10, last.Message.Revision(), "sink should pin its outgoing revision down to the source's")
}
