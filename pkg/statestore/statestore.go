// Package statestore implements the StateStore (C2): a durable
// per-processor key->JSON map, backed by a single shared state.json object
// in the ObjectStore, flushed periodically and on shutdown. Grounded on
// original_source/backend/lab/core/state.py's StateManager.
//
// A bbolt-backed local shadow copy (pkg/storage/boltdb.go's CRUD-per-bucket
// idiom from the teacher, repurposed to a single "state" bucket) is written
// on every mutation. Start does not read it back: state is loaded from
// state.json only, so mutations made after the last successful flush are
// not restored from the shadow. The object-store copy remains authoritative
// per SPEC_FULL.md §4.2/§4.17.
package statestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/ethpandaops/lab/pkg/objectstore"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const (
	stateKey     = "state.json"
	flushBucket  = "state"
	flushInterval = 60 * time.Second
)

// Store is one module's durable state sub-map.
type Store struct {
	name  string
	store objectstore.ObjectStore
	db    *bolt.DB // may be nil: local shadow is best-effort

	logger zerolog.Logger

	mu    sync.Mutex
	state map[string]interface{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Store for the named module. db may be nil to disable the
// local shadow cache.
func New(name string, store objectstore.ObjectStore, db *bolt.DB, logger zerolog.Logger) *Store {
	return &Store{
		name:   name,
		store:  store,
		db:     db,
		logger: logger.With().Str("state_module", name).Logger(),
		state:  make(map[string]interface{}),
		stopCh: make(chan struct{}),
	}
}

// Start loads this module's sub-map from state.json (writing an empty
// document if absent), then begins the periodic flush loop. Any error
// other than NotFound is fatal to startup, per spec.md §4.2.
func (s *Store) Start(ctx context.Context) error {
	full, err := s.readFullDocument(ctx)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return errs.New(errs.Fatal, "statestore.Start", err)
	}
	if full == nil {
		full = map[string]map[string]interface{}{}
	}
	s.mu.Lock()
	if sub, ok := full[s.name]; ok {
		s.state = sub
	} else {
		s.state = make(map[string]interface{})
	}
	s.mu.Unlock()

	if err != nil { // NotFound: seed the document
		if writeErr := s.writeFullDocument(ctx, full); writeErr != nil {
			return errs.New(errs.Fatal, "statestore.Start", writeErr)
		}
	}

	s.wg.Add(1)
	go s.flushLoop()
	return nil
}

// Stop ends the flush loop and performs one final flush, swallowing its
// error (logged only), matching StateManager.stop.
func (s *Store) Stop(ctx context.Context) {
	close(s.stopCh)
	s.wg.Wait()
	if err := s.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Msg("final flush failed")
	}
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("periodic flush failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Get returns the value for k, or a NotFound error if absent.
func (s *Store) Get(k string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[k]
	if !ok {
		return nil, errs.New(errs.NotFound, "statestore.Get", errKeyNotFound(k))
	}
	return v, nil
}

// Set writes k=v in-memory and to the local shadow cache.
func (s *Store) Set(k string, v interface{}) error {
	s.mu.Lock()
	s.state[k] = v
	snapshot := cloneMap(s.state)
	s.mu.Unlock()
	return s.writeShadow(snapshot)
}

// Delete removes k in-memory and from the local shadow cache.
func (s *Store) Delete(k string) error {
	s.mu.Lock()
	delete(s.state, k)
	snapshot := cloneMap(s.state)
	s.mu.Unlock()
	return s.writeShadow(snapshot)
}

// GetAll returns a copy of the full in-memory sub-map.
func (s *Store) GetAll() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.state)
}

// DeleteAll clears the in-memory sub-map.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	s.state = make(map[string]interface{})
	s.mu.Unlock()
	return s.writeShadow(map[string]interface{}{})
}

// Flush does a read-modify-write on state.json: download the current full
// document, overwrite only this module's sub-map, put_atomic the result.
// Matches StateManager._write_state_to_s3; last-writer-wins across modules.
func (s *Store) Flush(ctx context.Context) error {
	timer := metrics.NewTimer()
	s.mu.Lock()
	snapshot := cloneMap(s.state)
	s.mu.Unlock()

	full, err := s.readFullDocument(ctx)
	if err != nil && !errs.Is(err, errs.NotFound) {
		metrics.StateStoreFlushesTotal.WithLabelValues("failure").Inc()
		return err
	}
	if full == nil {
		full = map[string]map[string]interface{}{}
	}
	full[s.name] = snapshot
	if err := s.writeFullDocument(ctx, full); err != nil {
		metrics.StateStoreFlushesTotal.WithLabelValues("failure").Inc()
		return err
	}
	timer.ObserveDuration(metrics.StateStoreFlushDuration)
	metrics.StateStoreFlushesTotal.WithLabelValues("success").Inc()
	return nil
}

func (s *Store) readFullDocument(ctx context.Context) (map[string]map[string]interface{}, error) {
	r, err := s.store.Get(ctx, stateKey)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var full map[string]map[string]interface{}
	if err := json.NewDecoder(r).Decode(&full); err != nil {
		return nil, errs.New(errs.DataIntegrity, "statestore.readFullDocument", err)
	}
	return full, nil
}

func (s *Store) writeFullDocument(ctx context.Context, full map[string]map[string]interface{}) error {
	data, err := json.Marshal(full)
	if err != nil {
		return errs.New(errs.DataIntegrity, "statestore.writeFullDocument", err)
	}
	return s.store.PutAtomic(ctx, stateKey, data, objectstore.PutOptions{ContentType: "application/json"})
}

func (s *Store) writeShadow(snapshot map[string]interface{}) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil // shadow cache is best-effort, never fails a mutation
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(flushBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(s.name), data)
	})
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type errKeyNotFound string

func (e errKeyNotFound) Error() string { return "key not found: " + string(e) }
