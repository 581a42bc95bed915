package tenderly

import (
	"context"
	"sync"
	"time"

	xerrors "Treasury-Rebalancer/internal/errors"
)

// DefaultDelay is how long a scheduled simulation waits before it runs.
const DefaultDelay = 30 * time.Second

// Scheduler runs one simulation per Schedule call after a fixed delay.
type Scheduler struct {
	sim   Simulator
	delay time.Duration
}

// NewScheduler returns a scheduler. A negative delay is treated as zero.
func NewScheduler(sim Simulator, delay time.Duration) *Scheduler {
	if delay < 0 {
		delay = 0
	}
	return &Scheduler{sim: sim, delay: delay}
}

// Pending is the future of a scheduled simulation.
type Pending struct {
	done   chan struct{}
	timer  *time.Timer
	cancel context.CancelFunc

	once   sync.Once
	result *SimulationResult
	err    error
}

// Schedule arms a one-shot timer that runs the simulation. Cancelling ctx
// before the timer fires stops it.
func (s *Scheduler) Schedule(ctx context.Context, req SimulationRequest) *Pending {
	runCtx, cancel := context.WithCancel(ctx)
	p := &Pending{done: make(chan struct{}), cancel: cancel}

	p.timer = time.AfterFunc(s.delay, func() {
		res, err := s.sim.Simulate(runCtx, req)
		p.finish(res, err)
	})

	go func() {
		select {
		case <-runCtx.Done():
			if p.timer.Stop() {
				p.finish(nil, xerrors.Wrap(xerrors.CodeTimeout, runCtx.Err(), "scheduled simulation cancelled"))
			}
		case <-p.done:
		}
	}()
	return p
}

func (p *Pending) finish(res *SimulationResult, err error) {
	p.once.Do(func() {
		p.result, p.err = res, err
		close(p.done)
		p.cancel()
	})
}

// Done is closed once the simulation has finished or been cancelled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the simulation completes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (*SimulationResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		p.Cancel()
		<-p.done
		return p.result, p.err
	}
}

// Cancel stops a simulation that has not started. A running simulation sees
// its context cancelled.
func (p *Pending) Cancel() {
	p.cancel()
}

// Simulate schedules req and waits for it.
func (s *Scheduler) Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	return s.Schedule(ctx, req).Wait(ctx)
}
