package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// funcWorker adapts a closure into a supervised worker.
type funcWorker struct {
	run func(ctx context.Context) error
}

func (w *funcWorker) Run(ctx context.Context) error { return w.run(ctx) }

func TestSupervisor_RestartsWorkerOnPanic(t *testing.T) {
	req := require.New(t)
	supervisor := NewSupervisor(testLogger())

	var runs atomic.Int32
	worker := &funcWorker{run: func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			panic("worker exploded")
		}
		// Third attempt terminates cleanly, which must end the restarts
		return nil
	}}
	supervisor.Add(worker)

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.FailNow("supervisor did not settle after worker recovery")
	}
	req.EqualValues(3, runs.Load())
}

func TestSupervisor_RestartsWorkerOnError(t *testing.T) {
	req := require.New(t)
	supervisor := NewSupervisor(testLogger())

	var runs atomic.Int32
	supervisor.Add(&funcWorker{run: func(ctx context.Context) error {
		if runs.Add(1) < 2 {
			return fmt.Errorf("transient failure")
		}
		return nil
	}})

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.FailNow("supervisor did not settle")
	}
	req.EqualValues(2, runs.Load())
}

func TestSupervisor_CleanExitIsNeverRestarted(t *testing.T) {
	req := require.New(t)
	supervisor := NewSupervisor(testLogger())

	var runs atomic.Int32
	supervisor.Add(&funcWorker{run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	supervisor.Run(context.Background())

	// Leave room for a wrongful restart to show up
	time.Sleep(2 * waitTimeBeforeRestart)
	req.EqualValues(1, runs.Load())
}

func TestSupervisor_StopCancelsAllWorkers(t *testing.T) {
	req := require.New(t)
	supervisor := NewSupervisor(testLogger())

	started := make(chan struct{}, 2)
	blocking := func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	supervisor.Add(&funcWorker{run: blocking}, &funcWorker{run: blocking})

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	<-started
	<-started
	supervisor.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.FailNow("supervisor did not unwind after Stop")
	}
}

func TestSupervisor_ParentCancellationPropagates(t *testing.T) {
	req := require.New(t)
	supervisor := NewSupervisor(testLogger())

	started := make(chan struct{}, 1)
	supervisor.Add(&funcWorker{run: func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.FailNow("supervisor did not follow parent cancellation")
	}
}
