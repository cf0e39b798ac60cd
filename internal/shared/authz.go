package shared

import "context"

// Stock platform permissions.
const (
	PermStockView   = "stock.view"
	PermStockRecord = "stock.record"
	PermStockAudit  = "stock.audit"

	PermOpnameView   = "opname.view"
	PermOpnameManage = "opname.manage"

	PermOrdersReserve = "orders.reserve"

	PermIngestRun = "ingest.run"
)

// StockScopes lists every permission understood by the service.
func StockScopes() []string {
	return []string{
		PermStockView,
		PermStockRecord,
		PermStockAudit,
		PermOpnameView,
		PermOpnameManage,
		PermOrdersReserve,
		PermIngestRun,
	}
}

// Authorizer decides whether an actor holds a permission. One implementation
// is selected at startup and used by the HTTP boundary only.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, permission string) (bool, error)
}
