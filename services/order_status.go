package services

import "github.com/yeremiapane/tablesync/models"

type statusTransition struct {
	From string
	To   string
}

// orderTransitions is the allowed edge set of the order status machine.
// cancelled is handled separately: it is reachable from any non-terminal
// status.
var orderTransitions = []statusTransition{
	{models.OrderPending, models.OrderConfirmed},
	{models.OrderConfirmed, models.OrderPreparing},
	{models.OrderPreparing, models.OrderReady},
	{models.OrderReady, models.OrderDelivered},
	{models.OrderReady, models.OrderPickedUp},
	{models.OrderDelivered, models.OrderCompleted},
	{models.OrderPickedUp, models.OrderCompleted},
}

// CanTransition reports whether an order may move between two statuses.
func CanTransition(from, to string) bool {
	if to == models.OrderCancelled {
		return !models.IsTerminalStatus(from)
	}
	for _, t := range orderTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether a payment sub-record may move between
// two statuses. The regular path is none -> pending -> awaiting_payment ->
// paid; cash may jump straight to paid since it needs no external
// confirmation step. paid is terminal.
func CanTransitionPayment(from, to, method string) bool {
	switch {
	case from == models.PaymentPaid:
		return false
	case from == models.PaymentNone && to == models.PaymentPending:
		return true
	case from == models.PaymentPending && to == models.PaymentAwaitingPayment:
		return true
	case from == models.PaymentAwaitingPayment && to == models.PaymentPaid:
		return true
	case to == models.PaymentPaid && method == models.MethodCash:
		return from == models.PaymentNone || from == models.PaymentPending
	}
	return false
}
