package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/chaindeploy/internal/inventory"
	"github.com/3cpo-dev/chaindeploy/internal/tasks"
	"github.com/3cpo-dev/chaindeploy/internal/telemetry"
)

// Connector opens a Remote for a host. Remotes that implement io.Closer are
// closed once the task finishes on that host.
type Connector func(ctx context.Context, host inventory.Host) (tasks.Remote, error)

// TaskError is a task that failed on one host.
type TaskError struct {
	Task string
	Host inventory.Host
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Task, e.Host.Name, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Stats counts how one task went across its hosts. Hosts that never started
// because an earlier host failed are neither done nor failed.
type Stats struct {
	Hosts  int
	Done   int
	Failed int
	// Busy sums the time finished hosts spent on the task.
	Busy time.Duration
}

func (s Stats) Skipped() int { return s.Hosts - s.Done - s.Failed }

// Runner fans a task out over hosts with bounded concurrency. The first
// failure cancels the hosts that have not finished yet.
type Runner struct {
	connect     Connector
	concurrency int
}

func NewRunner(connect Connector, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{connect: connect, concurrency: concurrency}
}

func (r *Runner) Execute(ctx context.Context, hosts []inventory.Host, task tasks.Task) (Stats, error) {
	start := time.Now()
	var (
		mu    sync.Mutex
		stats = Stats{Hosts: len(hosts)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			took, err := r.runOne(gctx, host, task)
			var terr *TaskError
			mu.Lock()
			switch {
			case err == nil:
				stats.Done++
				stats.Busy += took
			case errors.As(err, &terr):
				stats.Failed++
				stats.Busy += took
			}
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	telemetry.RecordTaskMetrics(task.Name(), len(hosts), time.Since(start), stats.Done, stats.Failed)
	return stats, err
}

// runOne runs task on host. A host that is skipped because ctx is done
// returns the context error rather than a TaskError.
func (r *Runner) runOne(ctx context.Context, host inventory.Host, task tasks.Task) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	logger := log.With().Str("task", task.Name()).Str("host", host.Name).Logger()
	logger.Debug().Msg("starting")

	remote, err := r.connect(ctx, host)
	if err != nil {
		return time.Since(start), &TaskError{Task: task.Name(), Host: host, Err: err}
	}
	if c, ok := remote.(io.Closer); ok {
		defer c.Close()
	}
	if err := task.Run(ctx, remote); err != nil {
		logger.Error().Err(err).Msg("failed")
		return time.Since(start), &TaskError{Task: task.Name(), Host: host, Err: err}
	}
	took := time.Since(start)
	logger.Info().Dur("took", took).Msg("done")
	return took, nil
}
