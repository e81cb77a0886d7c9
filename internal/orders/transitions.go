package orders

import "github.com/modaluna/modaluna-backend/pkg/enums"

// transitions is the full order state machine. Terminal states have no
// outgoing edges; cancellation is only reachable before shipment.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusPaid, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:      {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:   {enums.OrderStatusDelivered},
	enums.OrderStatusDelivered: {},
	enums.OrderStatusCancelled: {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// externalStatusMap translates fulfillment provider statuses into order
// statuses. Unknown provider statuses are not an error; the webhook receiver
// acknowledges and ignores them.
var externalStatusMap = map[string]enums.OrderStatus{
	"completed": enums.OrderStatusDelivered,
	"shipped":   enums.OrderStatusShipped,
	"paid":      enums.OrderStatusPaid,
	"cancelled": enums.OrderStatusCancelled,
}

// MapExternalStatus resolves a provider status string to an order status.
func MapExternalStatus(external string) (enums.OrderStatus, bool) {
	status, ok := externalStatusMap[external]
	return status, ok
}
