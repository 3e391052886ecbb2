// Package objectstoretest provides an in-memory ObjectStore fake for unit
// tests of components layered on top of C1, mirroring the teacher's
// test/framework fake-collaborator style.
package objectstoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/objectstore"
)

// Fake is an in-memory ObjectStore. PutAtomic is executed as a direct
// write (no temp-key/sleep/copy sequence) since tests only care about
// eventual content, not the visibility-window behavior exercised by I3's
// S3-backed test.
type Fake struct {
	mu    sync.Mutex
	items map[string][]byte
	Puts  int
}

// New returns an empty Fake store.
func New() *Fake { return &Fake{items: make(map[string][]byte)} }

func (f *Fake) Put(_ context.Context, key string, data []byte, _ objectstore.PutOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.items[key] = cp
	f.Puts++
	return nil
}

func (f *Fake) PutAtomic(ctx context.Context, key string, data []byte, opts objectstore.PutOptions) error {
	return f.Put(ctx, key, data, opts)
}

func (f *Fake) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.items[key]
	if !ok {
		return nil, errs.New(errs.NotFound, "Fake.Get", fmt.Errorf("key %s not found", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

func (f *Fake) Exists(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[key]
	return ok
}

var _ objectstore.ObjectStore = (*Fake)(nil)
