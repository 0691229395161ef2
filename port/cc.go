package port

import "github.com/oxplot/go-typec-tpm/tpc"

// CC-combination helpers used by the attach-wait and accessory debounce
// handlers. Kept separate from the state tables so the transition logic
// reads as "what does this combination mean" rather than bit-twiddling.

func isRd(c tpc.CC) bool { return c == tpc.CCRd }
func isRa(c tpc.CC) bool { return c == tpc.CCRa }
func isOpen(c tpc.CC) bool { return c == tpc.CCOpen }

// sourceSeesAttach reports whether a source-presenting port (Rp on both
// lines) sees a sink (exactly one Rd), a debug accessory (Rd, Rd), an audio
// accessory (Ra, Ra), or nothing conclusive yet.
func sourceSeesAttach(cc1, cc2 tpc.CC) (sink, debugAcc, audioAcc bool) {
	switch {
	case isRd(cc1) && isRd(cc2):
		debugAcc = true
	case isRa(cc1) && isRa(cc2):
		audioAcc = true
	case isRd(cc1) != isRd(cc2) && (isRd(cc1) || isRd(cc2)):
		sink = true
	}
	return
}

// sinkSeesAttach reports whether a sink-presenting port (Rd on both lines)
// sees a source (Rp on exactly one line).
func sinkSeesAttach(cc1, cc2 tpc.CC) bool {
	return cc1.IsRp() != cc2.IsRp() && (cc1.IsRp() || cc2.IsRp())
}

// sourcePolarity returns the polarity matching whichever CC line shows Rd.
func sourcePolarity(cc1, cc2 tpc.CC) tpc.Polarity {
	if isRd(cc1) {
		return tpc.PolarityCC1
	}
	return tpc.PolarityCC2
}

// tpcRoleCC is the termination a freshly-promoted source presents. Fixed at
// the default current advertisement; current renegotiation happens through
// PDO selection, not CC signaling.
func tpcRoleCC(p *Port) tpc.CC { return tpc.CCRpDefault }

// sinkPolarity returns the polarity matching whichever CC line shows Rp.
func sinkPolarity(cc1, cc2 tpc.CC) tpc.Polarity {
	if cc1.IsRp() {
		return tpc.PolarityCC1
	}
	return tpc.PolarityCC2
}
