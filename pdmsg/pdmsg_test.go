package pdmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageHeaderRoundTrip(t *testing.T) {
	var m Message
	m.SetExtended(false)
	m.SetID(5)
	m.SetDataObjectCount(3)
	m.SetType(TypeRequest)
	m.SetRevision(Revision30)
	m.SetPowerRole(PowerRoleSource)
	m.SetDataRole(DataRoleDFP)

	assert.False(t, m.IsExtended())
	assert.Equal(t, uint8(5), m.ID())
	assert.Equal(t, uint8(3), m.DataObjectCount())
	assert.True(t, m.IsData())
	assert.Equal(t, TypeRequest, m.Type())
	assert.Equal(t, Revision30, m.Revision())
	assert.Equal(t, PowerRoleSource, m.PowerRole())
	assert.Equal(t, DataRoleDFP, m.DataRole())
}

func TestMessageControlVsData(t *testing.T) {
	var m Message
	m.SetDataObjectCount(0)
	m.SetType(TypeAccept)
	assert.False(t, m.IsData())
	assert.Equal(t, TypeAccept, m.Type())
}

func TestMessageToBytes(t *testing.T) {
	var m Message
	m.SetID(2)
	m.SetDataObjectCount(2)
	m.SetType(TypeRequest)
	m.Data[0] = 0x11223344
	m.Data[1] = 0xaabbccdd

	buf := make([]byte, MaxMessageBytes)
	n := m.ToBytes(buf)
	require.Equal(t, uint8(2+2*4), n)
	assert.Equal(t, byte(m.Header&0xff), buf[0])
	assert.Equal(t, byte((m.Header>>8)&0xff), buf[1])
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, buf[2:6])
	assert.Equal(t, []byte{0xdd, 0xcc, 0xbb, 0xaa}, buf[6:10])
}

func TestFixedSupplyPDORoundTrip(t *testing.T) {
	p := NewFixedSupplyPDO()
	p.SetVoltage(5000)
	p.SetMaxCurrent(3000)
	assert.Equal(t, uint16(5000), p.Voltage())
	assert.Equal(t, uint16(3000), p.MaxCurrent())
	assert.Equal(t, PDOTypeFixedSupply, PDO(p).Type())
}

func TestVariableSupplyPDORoundTrip(t *testing.T) {
	p := NewVariableSupplyPDO()
	p.SetMinVoltage(5000)
	p.SetMaxVoltage(12000)
	p.SetMaxCurrent(2000)
	assert.Equal(t, uint16(5000), p.MinVoltage())
	assert.Equal(t, uint16(12000), p.MaxVoltage())
	assert.Equal(t, uint16(2000), p.MaxCurrent())
	assert.Equal(t, PDOTypeVariableSupply, PDO(p).Type())
}

func TestBatterySupplyPDORoundTrip(t *testing.T) {
	p := NewBatterySupplyPDO()
	p.SetMinVoltage(5000)
	p.SetMaxVoltage(20000)
	p.SetMaxPower(15000)
	assert.Equal(t, uint16(5000), p.MinVoltage())
	assert.Equal(t, uint16(20000), p.MaxVoltage())
	assert.Equal(t, uint16(15000), p.MaxPower())
	assert.Equal(t, PDOTypeBattery, PDO(p).Type())
}

func TestPPSPDOPowerLimited(t *testing.T) {
	p := NewPPSPDO()
	p.SetPowerLimited(true)
	assert.True(t, p.IsPowerLimited())
	p.SetPowerLimited(false)
	assert.False(t, p.IsPowerLimited())
	assert.Equal(t, PDOTypePPS, PDO(p).Type())
}

func TestRequestDOFixedRoundTrip(t *testing.T) {
	var rdo RequestDO
	rdo.SetSelectedObjectPosition(2)
	rdo.SetFixedOperatingCurrent(1500)
	rdo.SetFixedMaxOperatingCurrent(3000)
	rdo.SetCapabilityMismatch(true)

	assert.Equal(t, uint8(2), rdo.SelectedObjectPosition())
	assert.Equal(t, uint16(1500), rdo.FixedOperatingCurrent())
	assert.Equal(t, uint16(3000), rdo.FixedMaxOperatingCurrent())
	assert.True(t, rdo.CapabilityMismatch())
	assert.NotEqual(t, EmptyRequestDO, rdo)
}

func TestRequestDOBattery(t *testing.T) {
	var rdo RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetBatteryOperatingPower(5000)
	rdo.SetBatteryMaxOperatingPower(10000)

	assert.Equal(t, uint16(5000), rdo.BatteryOperatingPower())
	assert.Equal(t, uint16(10000), rdo.BatteryMaxOperatingPower())
}

func TestRequestDOPPS(t *testing.T) {
	var rdo RequestDO
	rdo.SetPPSOutputVoltage(9000)
	rdo.SetPPSOutputCurrent(3000)
	assert.Equal(t, uint16(9000), rdo.PPSOutputVoltage())
	assert.Equal(t, uint16(3000), rdo.PPSOutputCurrent())
}

func TestPowerRoleDataRoleStrings(t *testing.T) {
	assert.Equal(t, "Source", PowerRoleSource.String())
	assert.Equal(t, "Sink", PowerRoleSink.String())
	assert.Equal(t, "DFP", DataRoleDFP.String())
	assert.Equal(t, "UFP", DataRoleUFP.String())
}
