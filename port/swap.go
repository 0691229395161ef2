package port

// Shared skeleton for the three swap families (§4.4 "Swaps", §4.6). Each
// family supplies its own *_SEND/_ACCEPT/_CHANGE_* states; this file holds
// the bit that's identical across all three: routing a facade-initiated
// swapRequest to the right _SEND state, and resolving the pending swap's
// completion channel exactly once.

// dispatchSwapRequest is called from *_READY's handle when an evSwapRequest
// arrives from the typec facade.
func dispatchSwapRequest(p *Port, req swapRequest) (*state, error) {
	if p.pendingSwap != nil {
		// A swap is already in flight; refuse the new one immediately
		// rather than clobbering the first caller's completion channel.
		req.done <- SwapInvalid
		return nil, nil
	}
	if !p.pdCapable {
		// No PD contract established yet: nothing to negotiate the swap
		// over. Enter the family's CANCEL state rather than attempting a
		// send that has nothing to ride on.
		p.pendingSwap = &req
		switch req.kind {
		case SwapKindDR:
			return stateDRSwapCancel, nil
		case SwapKindPR:
			return statePRSwapCancel, nil
		case SwapKindVCONN:
			return stateVCONNSwapCancel, nil
		}
		req.done <- SwapInvalid
		p.pendingSwap = nil
		return nil, nil
	}
	p.pendingSwap = &req
	switch req.kind {
	case SwapKindDR:
		return stateDRSwapSend, nil
	case SwapKindPR:
		return statePRSwapSend, nil
	case SwapKindVCONN:
		return stateVCONNSwapSend, nil
	default:
		req.done <- SwapInvalid
		p.pendingSwap = nil
		return nil, nil
	}
}

// completeSwap resolves the in-flight swap (if any) with result and clears
// it so a subsequent swap can be requested.
func completeSwap(p *Port, result SwapResult) {
	if p.pendingSwap == nil {
		return
	}
	select {
	case p.pendingSwap.done <- result:
	default:
	}
	p.pendingSwap = nil
}
