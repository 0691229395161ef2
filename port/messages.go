package port

import "github.com/oxplot/go-typec-tpm/pdmsg"

// Named message senders built on top of the generic sendControl/sendData
// primitives in port.go. Kept separate so the state table files read as a
// sequence of verb calls, mirroring the teacher's pe_send_* naming.

func (p *Port) sendAccept() error      { return p.sendControl(pdmsg.TypeAccept) }
func (p *Port) sendReject() error      { return p.sendControl(pdmsg.TypeReject) }
func (p *Port) sendWait() error        { return p.sendControl(pdmsg.TypeWait) }
func (p *Port) sendPSRDY() error       { return p.sendControl(pdmsg.TypePSReady) }
func (p *Port) sendSoftReset() error   { return p.sendControl(pdmsg.TypeSoftReset) }
func (p *Port) sendGetSourceCap() error { return p.sendControl(pdmsg.TypeGetSourceCap) }
func (p *Port) sendGetSinkCap() error  { return p.sendControl(pdmsg.TypeGetSinkCap) }
func (p *Port) sendDRSwap() error      { return p.sendControl(pdmsg.TypeDRSwap) }
func (p *Port) sendPRSwap() error      { return p.sendControl(pdmsg.TypePRSwap) }
func (p *Port) sendVCONNSwap() error   { return p.sendControl(pdmsg.TypeVCONNSwap) }
func (p *Port) sendPing() error        { return p.sendControl(pdmsg.TypePing) }
func (p *Port) sendGotoMin() error     { return p.sendControl(pdmsg.TypeGotoMin) }

// sendSourceCaps advertises the board's source PDO list.
func (p *Port) sendSourceCaps() error {
	objs := make([]uint32, len(p.board.SrcPDO))
	for i, pdo := range p.board.SrcPDO {
		objs[i] = uint32(pdo)
	}
	return p.sendData(pdmsg.TypeSourceCap, objs...)
}

// sendSinkCaps advertises the board's sink PDO list.
func (p *Port) sendSinkCaps() error {
	objs := make([]uint32, len(p.board.SnkPDO))
	for i, pdo := range p.board.SnkPDO {
		objs[i] = uint32(pdo)
	}
	return p.sendData(pdmsg.TypeSinkCap, objs...)
}

// sendRequest transmits rdo as a Request data message.
func (p *Port) sendRequest(rdo pdmsg.RequestDO) error {
	return p.sendData(pdmsg.TypeRequest, uint32(rdo))
}

// sourceCapsFromMessage extracts the PDO list carried by a received
// Source_Capabilities (or Sink_Capabilities) data message.
func sourceCapsFromMessage(m pdmsg.Message) []pdmsg.PDO {
	n := m.DataObjectCount()
	caps := make([]pdmsg.PDO, n)
	for i := uint8(0); i < n; i++ {
		caps[i] = pdmsg.PDO(m.Data[i])
	}
	return caps
}
