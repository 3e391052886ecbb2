package statestore

import "context"

// StateStore is the C2 contract consumed by Processors.
type StateStore interface {
	Get(k string) (interface{}, error)
	Set(k string, v interface{}) error
	Delete(k string) error
	GetAll() map[string]interface{}
	DeleteAll() error
	Flush(ctx context.Context) error
}

var _ StateStore = (*Store)(nil)
