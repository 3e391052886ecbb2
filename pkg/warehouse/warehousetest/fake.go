// Package warehousetest provides an in-memory WarehouseClient fake for unit
// tests of components layered on top of C3, mirroring the teacher's
// test/framework fake-collaborator style and objectstoretest's Fake.
package warehousetest

import (
	"context"

	"github.com/ethpandaops/lab/pkg/warehouse"
)

// Rows is a scripted in-memory row set.
type Rows struct {
	data []map[string]interface{}
	cols []string
	idx  int
}

// NewRows builds a Rows from column names and row value maps, addressed by
// column name for Scan ordering convenience in tests.
func NewRows(cols []string, rows ...map[string]interface{}) *Rows {
	return &Rows{cols: cols, data: rows, idx: -1}
}

func (r *Rows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *Rows) Scan(dest ...interface{}) error {
	row := r.data[r.idx]
	for i, col := range r.cols {
		if i >= len(dest) {
			break
		}
		assign(dest[i], row[col])
	}
	return nil
}

func (r *Rows) Err() error   { return nil }
func (r *Rows) Close() error { return nil }

func assign(dest interface{}, v interface{}) {
	switch d := dest.(type) {
	case *int64:
		if v != nil {
			*d = v.(int64)
		}
	case *int:
		if v != nil {
			*d = v.(int)
		}
	case *string:
		if v != nil {
			*d = v.(string)
		}
	case **int64:
		if v == nil {
			*d = nil
			return
		}
		n := v.(int64)
		*d = &n
	}
}

// Handler is the query-dispatch function a Fake delegates to.
type Handler func(ctx context.Context, query string, args map[string]interface{}) (warehouse.Rows, error)

// Fake is a scriptable WarehouseClient.
type Fake struct {
	Handler Handler
}

func (f *Fake) Query(ctx context.Context, query string, args map[string]interface{}) (warehouse.Rows, error) {
	return f.Handler(ctx, query, args)
}

var _ warehouse.WarehouseClient = (*Fake)(nil)
