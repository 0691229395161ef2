package tcdpm

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
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

func ppsPDO(minMV, maxMV, maxMA uint16) pdmsg.PDO {
	p := pdmsg.NewPPSPDO()
	p.SetMinVoltage(minMV)
	p.SetMaxVoltage(maxMV)
	p.SetMaxCurrent(maxMA)
	return pdmsg.PDO(p)
}

func TestCCPolicyValidate(t *testing.T) {
	good := CCPolicy{MinVoltage: 5000, MaxVoltage: 11000, MinCurrent: 1000, MaxCurrent: 3000}
	require.NoError(t, good.Validate())

	badCurrent := good
	badCurrent.MaxCurrent = 6000
	assert.ErrorIs(t, badCurrent.Validate(), errCCBadCurrent)

	badVoltage := good
	badVoltage.MinVoltage = 1000
	assert.ErrorIs(t, badVoltage.Validate(), errBadVoltage)

	inverted := good
	inverted.MinCurrent, inverted.MaxCurrent = 3000, 1000
	assert.ErrorIs(t, inverted.Validate(), errMaxCurrentLessThanMin)
}

func TestCCPolicyPicksHighestCurrentWithinCap(t *testing.T) {
	c := CCPolicy{MinVoltage: 5000, MaxVoltage: 11000, MinCurrent: 1000, MaxCurrent: 3000}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 3000),
		ppsPDO(3300, 11000, 5000),
	}
	rdo := c.EvaluateCapabilities(pdos)
	require.NotEqual(t, pdmsg.EmptyRequestDO, rdo)
	assert.EqualValues(t, 2, rdo.SelectedObjectPosition())
	assert.EqualValues(t, 3000, rdo.PPSOutputCurrent())
}

func TestCCPolicyNoPPSProfileYieldsEmptyRequest(t *testing.T) {
	c := CCPolicy{MinVoltage: 5000, MaxVoltage: 11000, MinCurrent: 1000, MaxCurrent: 3000}
	rdo := c.EvaluateCapabilities([]pdmsg.PDO{fixedPDO(5000, 3000)})
	assert.Equal(t, pdmsg.EmptyRequestDO, rdo)
}

func TestCVPolicyPrefersFixedOverPPSByDefault(t *testing.T) {
	c := CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 2000}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 3000),
		ppsPDO(3300, 11000, 5000),
	}
	rdo := c.EvaluateCapabilities(pdos)
	require.NotEqual(t, pdmsg.EmptyRequestDO, rdo)
	assert.EqualValues(t, 1, rdo.SelectedObjectPosition())
	assert.EqualValues(t, 2000, rdo.FixedOperatingCurrent())
}

func TestCVPolicyPreferPPSFlag(t *testing.T) {
	c := CVPolicy{MinVoltage: 5000, MaxVoltage: 11000, Current: 2000, PreferPPS: true}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 3000),
		ppsPDO(3300, 11000, 5000),
	}
	rdo := c.EvaluateCapabilities(pdos)
	require.NotEqual(t, pdmsg.EmptyRequestDO, rdo)
	assert.EqualValues(t, 2, rdo.SelectedObjectPosition())
}

func TestCPPolicyDerivesCurrentFromPower(t *testing.T) {
	c := CPPolicy{MinVoltage: 5000, MaxVoltage: 5000, Power: 10000}
	rdo := c.EvaluateCapabilities([]pdmsg.PDO{fixedPDO(5000, 3000)})
	require.NotEqual(t, pdmsg.EmptyRequestDO, rdo)
	assert.EqualValues(t, 2000, rdo.FixedOperatingCurrent()) // 10 W at 5 V
}

func TestCPPolicyValidateRejectsZeroPower(t *testing.T) {
	c := CPPolicy{MinVoltage: 5000, MaxVoltage: 5000}
	assert.ErrorIs(t, c.Validate(), errCPZeroPower)
}

func TestLoggerPassesThroughToBase(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	base := &CCPolicy{MinVoltage: 5000, MaxVoltage: 11000, MinCurrent: 1000, MaxCurrent: 3000}
	l := NewLogger(logrus.NewEntry(log), base)
	require.NoError(t, l.Validate())

	rdo := l.EvaluateCapabilities([]pdmsg.PDO{ppsPDO(3300, 11000, 5000)})
	assert.NotEqual(t, pdmsg.EmptyRequestDO, rdo)
	assert.Contains(t, buf.String(), "received source capability")
}

func TestLoggerWithNoBaseReturnsEmptyRequest(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	l := NewLogger(logrus.NewEntry(log), nil)
	require.NoError(t, l.Validate())
	rdo := l.EvaluateCapabilities([]pdmsg.PDO{fixedPDO(5000, 3000)})
	assert.Equal(t, pdmsg.EmptyRequestDO, rdo)
}

func TestNewFromModeBuildsAndValidates(t *testing.T) {
	p, err := NewFromMode(ModeCC, Params{MinVoltageMV: 5000, MaxVoltageMV: 11000, MinCurrentMA: 1000, MaxCurrentMA: 3000})
	require.NoError(t, err)
	require.NotNil(t, p)
	_, ok := p.(*CCPolicy)
	assert.True(t, ok)
}

func TestNewFromModeNoneReturnsNil(t *testing.T) {
	p, err := NewFromMode(ModeNone, Params{})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewFromModeUnknownErrors(t *testing.T) {
	_, err := NewFromMode(Mode("bogus"), Params{})
	assert.ErrorIs(t, err, errUnknownMode)
}

func TestNewFromModePropagatesValidationError(t *testing.T) {
	_, err := NewFromMode(ModeCC, Params{MinVoltageMV: 1000, MaxVoltageMV: 1000})
	assert.Error(t, err)
}
