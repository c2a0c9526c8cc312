package periodic

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/MolSSI/QCFractal-sub005/internal/platform/logging"
)

// job is one named, independently-scheduled background task. Scheduling
// itself is delegated to robfig/cron (the teacher declares this dependency
// but never calls it; this is where it actually runs) so jobs can carry
// either a plain "@every" interval or, later, a full cron expression
// without changing the runner's shape.
type job struct {
	name string
	spec string // cron spec, e.g. "@every 60s"
	fn   func(ctx context.Context) error
	log  *logging.Logger
}

func newJob(name string, spec string, log *logging.Logger, fn func(ctx context.Context) error) *job {
	return &job{name: name, spec: spec, fn: fn, log: log}
}

// workerGroup runs every registered job on its own cron schedule inside one
// shared scheduler, following the teacher's WorkerGroup Start/Stop/IsRunning
// lifecycle contract (marble.WorkerGroup) even though the per-job ticking
// itself is now cron-driven rather than a raw time.Ticker.
type workerGroup struct {
	jobs []*job

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func newWorkerGroup() *workerGroup {
	return &workerGroup{}
}

func (g *workerGroup) add(j *job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobs = append(g.jobs, j)
}

// start builds a fresh cron.Cron bound to ctx, registers every job, and
// starts it. It returns once the scheduler goroutine is running; jobs then
// fire on their own schedules until stop is called or ctx is cancelled.
func (g *workerGroup) start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("periodic runner already running")
	}

	c := cron.New()
	for _, j := range g.jobs {
		j := j
		id, err := c.AddFunc(j.spec, func() {
			if err := j.fn(ctx); err != nil {
				j.log.WithField("job", j.name).WithError(err).Warn("periodic job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule job %s (%s): %w", j.name, j.spec, err)
		}
		_ = id
	}

	c.Start()
	g.cron = c
	g.running = true

	go func() {
		<-ctx.Done()
		g.stop()
	}()
	return nil
}

func (g *workerGroup) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	<-g.cron.Stop().Done()
	g.running = false
}

func (g *workerGroup) isRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}
