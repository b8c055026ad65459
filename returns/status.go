package returns

import "github.com/warp/supply-ledger/ledger"

var transitions = map[ledger.ReturnStatus][]ledger.ReturnStatus{
	ledger.ReturnRequested: {ledger.ReturnApproved, ledger.ReturnRejected},
	ledger.ReturnApproved:  {ledger.ReturnReceived},
	ledger.ReturnReceived:  {ledger.ReturnCompleted},
}

// CanTransition reports whether a return may move from one status to another.
func CanTransition(from, to ledger.ReturnStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == ledger.ReturnCanceled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
