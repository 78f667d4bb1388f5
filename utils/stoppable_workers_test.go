package utils

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.viam.com/test"
)

func TestStoppableWorkers(t *testing.T) {
	started := make(chan struct{})
	var stopped atomic.Bool
	sw := NewStoppableWorkers(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
	})
	<-started
	sw.Stop()
	test.That(t, stopped.Load(), test.ShouldBeTrue)
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)

	// adding after stop is a no-op
	var ran atomic.Bool
	sw.AddWorkers(func(ctx context.Context) { ran.Store(true) })
	sw.Stop()
	test.That(t, ran.Load(), test.ShouldBeFalse)
}

func TestStoppableWorkerWithTicker(t *testing.T) {
	mockClock := clock.NewMock()
	ticks := make(chan struct{}, 10)
	sw := NewStoppableWorkerWithTicker(time.Second, mockClock, func(ctx context.Context) {
		ticks <- struct{}{}
	})
	defer sw.Stop()

	for i := 0; i < 3; i++ {
		// the worker may not have created its ticker yet; keep nudging the clock until it fires
		fired := false
		for !fired {
			mockClock.Add(time.Second)
			select {
			case <-ticks:
				fired = true
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	sw.Stop()
	test.That(t, sw.Context().Err(), test.ShouldNotBeNil)
}
