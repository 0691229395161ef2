package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxplot/go-typec-tpm/pdmsg"
)

func fixedPDO(mv, ma uint16) pdmsg.PDO {
	p := pdmsg.NewFixedSupplyPDO()
	p.SetVoltage(mv)
	p.SetMaxCurrent(ma)
	return pdmsg.PDO(p)
}

func TestSelectSinkPDOPicksHighestWattageUnderCap(t *testing.T) {
	caps := []pdmsg.PDO{
		fixedPDO(5000, 900),  // 4.5W
		fixedPDO(9000, 2000), // 18W
		fixedPDO(20000, 2000), // 40W, but above our cap
	}
	idx, err := SelectSinkPDO(caps, BoardConfig{MaxSnkMV: 15000})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestSelectSinkPDONoFit(t *testing.T) {
	caps := []pdmsg.PDO{fixedPDO(20000, 2000)}
	_, err := SelectSinkPDO(caps, BoardConfig{MaxSnkMV: 5000})
	assert.ErrorIs(t, err, ErrNoFit)
}

func TestBuildRequestSetsMismatchBelowOperatingPower(t *testing.T) {
	caps := []pdmsg.PDO{fixedPDO(5000, 900)} // 4.5W
	rdo, err := BuildRequest(caps, 0, BoardConfig{OperatingSnkMW: 10000})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), rdo.SelectedObjectPosition())
	assert.True(t, rdo.CapabilityMismatch())
}

func TestBuildRequestNoMismatchWhenPowerSufficient(t *testing.T) {
	caps := []pdmsg.PDO{fixedPDO(9000, 3000)} // 27W
	rdo, err := BuildRequest(caps, 0, BoardConfig{OperatingSnkMW: 10000})
	require.NoError(t, err)
	assert.False(t, rdo.CapabilityMismatch())
}

func TestBuildRequestCapsPowerToBoardMax(t *testing.T) {
	caps := []pdmsg.PDO{fixedPDO(20000, 5000)} // 100W
	rdo, err := BuildRequest(caps, 0, BoardConfig{MaxSnkMW: 15000})
	require.NoError(t, err)
	// 15000mW / 20V = 750mA
	assert.Equal(t, uint16(750), rdo.FixedOperatingCurrent())
}

func TestCheckRequestAcceptsWithinCap(t *testing.T) {
	srcPDO := []pdmsg.PDO{fixedPDO(5000, 3000)}
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(1500)
	rdo.SetFixedMaxOperatingCurrent(3000)
	assert.NoError(t, CheckRequest(rdo, srcPDO))
}

func TestCheckRequestRejectsOverCap(t *testing.T) {
	srcPDO := []pdmsg.PDO{fixedPDO(5000, 900)}
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(3000)
	rdo.SetFixedMaxOperatingCurrent(3000)
	err := CheckRequest(rdo, srcPDO)
	var invalid *ErrInvalidRequest
	assert.ErrorAs(t, err, &invalid)
}

func TestCheckRequestAcceptsMismatchOverCap(t *testing.T) {
	srcPDO := []pdmsg.PDO{fixedPDO(5000, 900)}
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(3000)
	rdo.SetFixedMaxOperatingCurrent(3000)
	rdo.SetCapabilityMismatch(true)
	assert.NoError(t, CheckRequest(rdo, srcPDO))
}

func TestCheckRequestRejectsOutOfRangeIndex(t *testing.T) {
	srcPDO := []pdmsg.PDO{fixedPDO(5000, 900)}
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(5)
	err := CheckRequest(rdo, srcPDO)
	var invalid *ErrInvalidRequest
	assert.ErrorAs(t, err, &invalid)
}

type fakeEvaluator struct {
	rdo pdmsg.RequestDO
}

func (f fakeEvaluator) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	return f.rdo
}

func TestBoardConfigDPMIsStructurallyAssignable(t *testing.T) {
	var rdo pdmsg.RequestDO
	rdo.SetSelectedObjectPosition(1)
	board := BoardConfig{DPM: fakeEvaluator{rdo: rdo}}
	require.NotNil(t, board.DPM)
	assert.Equal(t, rdo, board.DPM.EvaluateCapabilities(nil))
}
