package order

import "github.com/warp/supply-ledger/ledger"

// transitions lists the forward steps of the order lifecycle. CANCELED is
// reachable from every non-terminal status and is handled in CanTransition.
var transitions = map[ledger.OrderStatus]ledger.OrderStatus{
	ledger.OrderRequested: ledger.OrderApproved,
	ledger.OrderApproved:  ledger.OrderPreparing,
	ledger.OrderPreparing: ledger.OrderShipping,
	ledger.OrderShipping:  ledger.OrderCompleted,
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to ledger.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == ledger.OrderCanceled {
		return true
	}
	return transitions[from] == to
}

// Next returns the status that follows from in the normal flow, if any.
func Next(from ledger.OrderStatus) (ledger.OrderStatus, bool) {
	next, ok := transitions[from]
	return next, ok
}
