package enum

// ── Order lifecycle (CHECK constrained in DB) ──

const (
	OrderStatusNew       = "NEW"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
)

// ── Roles carried in access tokens ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
	UserRoleWaiter  = "WAITER"
)

// ── Events pushed to terminals and the kitchen ──

const (
	EventOrderSplit   = "order.split"
	EventOrderUpdated = "order.updated"
)

// IsOpenOrderStatus reports whether lines of an order in status s may still move.
func IsOpenOrderStatus(s string) bool {
	switch s {
	case OrderStatusNew, OrderStatusPreparing, OrderStatusReady:
		return true
	}
	return false
}
