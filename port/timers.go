package port

import "time"

// Protocol timers, named after the USB-PD 2.0 spec and §6 of the port
// manager design.
const (
	tSendSourceCap   = 100 * time.Millisecond
	tSenderResponse  = 30 * time.Millisecond
	tSourceActivity  = 45 * time.Millisecond
	tSinkWaitCap     = 240 * time.Millisecond
	tPSTransition    = 500 * time.Millisecond
	tSrcTransition   = 35 * time.Millisecond
	tPSSourceOff     = 920 * time.Millisecond
	tPSSourceOn      = 480 * time.Millisecond
	tPSHardReset     = 15 * time.Millisecond
	tSrcRecover      = 760 * time.Millisecond
	tSrcRecoverMax   = 1000 * time.Millisecond
	tSrcTurnOn       = 275 * time.Millisecond
	tSafe0V          = 650 * time.Millisecond
	tVCONNSourceOn   = 100 * time.Millisecond
	tCCDebounce      = 100 * time.Millisecond
	tPDDebounce      = 15 * time.Millisecond
	tcpcTxTimeout    = 100 * time.Millisecond
	tSrcRecoverTotal = tSrcRecoverMax + tSrcTurnOn
)

// Counters capped by the spec.
const (
	nCapsCount      = 50
	nHardResetCount = 2
)
