package warehouse

import "context"

// WarehouseClient is the C3 contract consumed by SlotProcessor and the
// peripheral modules.
type WarehouseClient interface {
	Query(ctx context.Context, query string, namedArgs map[string]interface{}) (Rows, error)
}

var _ WarehouseClient = (*Client)(nil)
