package reminder

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultTick = 20 * time.Second

type job struct {
	name string
	at   time.Time                       // next run, UTC
	next func(after time.Time) time.Time // computes the run after the given time
	run  func(ctx context.Context)
}

// Manager runs jobs at their time. Jobs are polled on a ticker, so they may
// start up to a tick late.
type Manager struct {
	clk    clock.Clock
	logger *zap.SugaredLogger
	tick   time.Duration

	mu    sync.Mutex
	queue *jobQueue
	wg    sync.WaitGroup
}

func NewManager(clk clock.Clock, l *zap.SugaredLogger) *Manager {
	return &Manager{
		clk:    clk,
		logger: l,
		tick:   defaultTick,
		queue:  newJobQueue(),
	}
}

// Every runs the job every d, the first time in d from now.
func (m *Manager) Every(name string, d time.Duration, run func(ctx context.Context)) error {
	if d <= 0 {
		return errors.Errorf("job %q: period must be positive", name)
	}
	return m.schedule(name, func(after time.Time) time.Time { return after.Add(d) }, run)
}

// DailyAt runs the job every day at hh:mm in loc.
func (m *Manager) DailyAt(name string, hh, mm int, loc *time.Location, run func(ctx context.Context)) error {
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return errors.Errorf("job %q: invalid time %02d:%02d", name, hh, mm)
	}
	return m.schedule(name, func(after time.Time) time.Time { return nextDaily(after, hh, mm, loc) }, run)
}

func (m *Manager) schedule(name string, next func(time.Time) time.Time, run func(ctx context.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Has(name) {
		return errors.Errorf("job %q is already scheduled", name)
	}

	j := &job{name: name, next: next, run: run}
	j.at = next(m.clk.Now().UTC())
	heap.Push(m.queue, j)

	m.logger.Infof("job %q is scheduled at %s", name, j.at.Format(time.RFC3339))
	return nil
}

// Run polls the queue until ctx is done and then waits for running jobs.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case <-ticker.C:
			m.fire(ctx)
		}
	}
}

// fire starts every due job and re-queues it for its next run. It returns
// the number of started jobs.
func (m *Manager) fire(ctx context.Context) int {
	now := m.clk.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for {
		j, ok := m.queue.Peek()
		if !ok || now.Before(j.at) {
			break
		}

		heap.Pop(m.queue)

		m.logger.Infof("running job %q", j.name)
		m.wg.Add(1)
		go func(run func(context.Context)) {
			defer m.wg.Done()
			run(ctx)
		}(j.run)

		j.at = j.next(now)
		heap.Push(m.queue, j)
		n++
	}
	return n
}

// Wait blocks until every started job has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// nextDaily returns the first hh:mm in loc strictly after the given time.
func nextDaily(after time.Time, hh, mm int, loc *time.Location) time.Time {
	t := after.In(loc)
	at := time.Date(t.Year(), t.Month(), t.Day(), hh, mm, 0, 0, loc)
	if !at.After(t) {
		at = time.Date(t.Year(), t.Month(), t.Day()+1, hh, mm, 0, 0, loc)
	}
	return at.UTC()
}
