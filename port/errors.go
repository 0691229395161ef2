package port

import "errors"

// Port-level sentinel errors. A non-nil error returned from a state's enter
// or handle routes the port straight into HARD_RESET_SEND, per the design's
// "local error means hard reset" rule.
var (
	errTxDiscarded = errors.New("port: transmission discarded by a competing receive")
	errTxFailed    = errors.New("port: transmission failed")
	errTxTimeout   = errors.New("port: transmission timed out waiting for tx complete")
)
