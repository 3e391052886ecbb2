package module

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	name      string
	startErr  error
	started   int32
	stopped   int32
}

func (f *fakeProcessor) Name() string { return f.name }
func (f *fakeProcessor) Start(ctx context.Context) error {
	atomic.AddInt32(&f.started, 1)
	return f.startErr
}
func (f *fakeProcessor) Stop() { atomic.AddInt32(&f.stopped, 1) }

func TestModuleStartStop(t *testing.T) {
	p1 := &fakeProcessor{name: "a"}
	p2 := &fakeProcessor{name: "b"}
	m := New("test", zerolog.Nop(), p1, p2)

	require.NoError(t, m.Start(context.Background()))
	assert.EqualValues(t, 1, p1.started)
	assert.EqualValues(t, 1, p2.started)

	m.Stop()
	assert.EqualValues(t, 1, p1.stopped)
	assert.EqualValues(t, 1, p2.stopped)
}

func TestModuleStartFailureStopsStarted(t *testing.T) {
	p1 := &fakeProcessor{name: "a"}
	p2 := &fakeProcessor{name: "b", startErr: assertErr("boom")}
	m := New("test", zerolog.Nop(), p1, p2)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, p1.stopped, "already-started processor must be stopped on partial failure")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestRunPeriodicRespectsShouldProcessAndStop(t *testing.T) {
	var calls int32
	spec := &fakeSpec{
		interval: 10 * time.Millisecond,
		shouldProcess: func() bool { return true },
		process: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		RunPeriodic(context.Background(), "p", spec, stopCh, zerolog.Nop())
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	close(stopCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not exit after stop")
	}
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 2)
}

func TestRunPeriodicSkipsWhenShouldProcessFalse(t *testing.T) {
	var calls int32
	spec := &fakeSpec{
		interval:      5 * time.Millisecond,
		shouldProcess: func() bool { return false },
		process: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		RunPeriodic(context.Background(), "p", spec, stopCh, zerolog.Nop())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	close(stopCh)
	<-done
	assert.Zero(t, calls)
}

type fakeSpec struct {
	interval      time.Duration
	shouldProcess func() bool
	process       func(ctx context.Context) error
	lastUpdate    int32
}

func (f *fakeSpec) ShouldProcess() bool       { return f.shouldProcess() }
func (f *fakeSpec) UpdateLastProcessed()      { atomic.AddInt32(&f.lastUpdate, 1) }
func (f *fakeSpec) Process(ctx context.Context) error { return f.process(ctx) }
func (f *fakeSpec) Interval() time.Duration   { return f.interval }
