// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"learnmate/internal/domain"
	"learnmate/internal/infra/metrics"
)

// Task is a unit of work run by the pool. The ctx is the pool's lifetime
// context, never the context of the request that submitted it.
type Task func(ctx context.Context) error

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	stop sync.Once
	n    int
	log  *zerolog.Logger
}

func NewPool(workers, queueSize int, log *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	l := log.With().Str("component", "worker_pool").Logger()
	return &Pool{jobs: make(chan Task, queueSize), quit: make(chan struct{}), n: workers, log: &l}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					metrics.SetWorkerQueueDepth(len(p.jobs))
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
	p.log.Info().Int("workers", p.n).Int("queue", cap(p.jobs)).Msg("worker pool started")
}

// run isolates a task so a panic cannot take the worker goroutine down.
func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Int("worker", id).Interface("panic", rec).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("task error")
	}
}

// Stop signals workers to exit and waits for running tasks to return.
// Queued tasks that never started are dropped.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit never blocks: a full queue returns domain.ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("nil task: %w", domain.ErrInvalidArgument)
	}
	select {
	case <-p.quit:
		return fmt.Errorf("pool stopped: %w", domain.ErrQueueFull)
	default:
	}
	select {
	case p.jobs <- task:
		metrics.SetWorkerQueueDepth(len(p.jobs))
		return nil
	default:
		return domain.ErrQueueFull
	}
}
