package statestore

import (
	"context"
	"testing"

	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/objectstore/objectstoretest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOnAbsentStateSeedsEmptyDocument(t *testing.T) {
	fake := objectstoretest.New()
	s := New("beacon", fake, nil, zerolog.Nop())
	defer s.Stop(context.Background())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, fake.Exists(context.Background(), stateKey))
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	fake := objectstoretest.New()
	s := New("beacon", fake, nil, zerolog.Nop())
	defer s.Stop(context.Background())
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Get("missing")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	fake := objectstoretest.New()
	s := New("beacon", fake, nil, zerolog.Nop())
	defer s.Stop(context.Background())
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Set("k", 42.0))
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)

	require.NoError(t, s.Delete("k"))
	_, err = s.Get("k")
	assert.True(t, errs.Is(err, errs.NotFound))
}

// TestFlushPreservesOtherModulesSubMap models end-to-end scenario 5: two
// modules flushing within a short window must not clobber each other.
func TestFlushPreservesOtherModulesSubMap(t *testing.T) {
	fake := objectstoretest.New()
	ctx := context.Background()

	a := New("beacon", fake, nil, zerolog.Nop())
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	b := New("beacon_chain_timings", fake, nil, zerolog.Nop())
	require.NoError(t, b.Start(ctx))
	defer b.Stop(ctx)

	require.NoError(t, a.Set("x", 1.0))
	require.NoError(t, a.Flush(ctx))

	require.NoError(t, b.Set("y", 2.0))
	require.NoError(t, b.Flush(ctx))

	full, err := a.readFullDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": 1.0}, full["beacon"])
	assert.Equal(t, map[string]interface{}{"y": 2.0}, full["beacon_chain_timings"])
}
