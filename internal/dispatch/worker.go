package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// WORKER POOL - Claims and Executes Queue Jobs
// =============================================================================

const (
	defaultPollInterval     = 2 * time.Second
	defaultRecoveryInterval = 2 * time.Minute
)

// Handler executes one claimed job.
type Handler func(ctx context.Context, job *Job) error

// Pool runs a fixed number of workers against the queue. Each worker claims
// one job at a time and routes it to the handler registered for its type.
type Pool struct {
	queue      *Queue
	numWorkers int
	poll       time.Duration
	workerID   string

	handlers map[string]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. Handlers are registered before Start.
func NewPool(queue *Queue, numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 2
	}
	host, _ := os.Hostname()
	return &Pool{
		queue:      queue,
		numWorkers: numWorkers,
		poll:       defaultPollInterval,
		workerID:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		handlers:   make(map[string]Handler),
	}
}

// Register routes a job type to a handler. Not safe after Start.
func (p *Pool) Register(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// Start launches the workers and the lease-recovery loop.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	log.Printf("[Worker] starting %d workers (id=%s)", p.numWorkers, p.workerID)

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.recoveryLoop()
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Printf("[Worker] stopped (processed=%d failed=%d)", p.processed.Load(), p.failed.Load())
}

// Stats reports lifetime counters.
func (p *Pool) Stats() (processed, failed int64) {
	return p.processed.Load(), p.failed.Load()
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(p.ctx, p.workerID)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Printf("[Worker %d] claim error: %v", n, err)
			p.sleep(time.Second)
			continue
		}
		if job == nil {
			p.sleep(p.poll)
			continue
		}

		p.run(n, job)
	}
}

func (p *Pool) run(n int, job *Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		log.Printf("[Worker %d] no handler for job type %q, dead-lettering %s", n, job.Type, job.ID)
		job.Attempts = job.MaxAttempts
		p.queue.Fail(p.ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		p.failed.Add(1)
		return
	}

	// bound the handler by the job's declared time-to-run
	ctx, cancel := context.WithTimeout(p.ctx, job.TTR)
	err := handler(ctx, job)
	cancel()

	if err != nil {
		log.Printf("[Worker %d] job %s (%s) attempt %d/%d failed: %v",
			n, job.ID, job.Type, job.Attempts, job.MaxAttempts, err)
		if ferr := p.queue.Fail(p.ctx, job, err); ferr != nil {
			log.Printf("[Worker %d] failed to record job failure: %v", n, ferr)
		}
		p.failed.Add(1)
		return
	}

	if err := p.queue.Complete(p.ctx, job.ID); err != nil {
		log.Printf("[Worker %d] failed to mark job %s complete: %v", n, job.ID, err)
	}
	p.processed.Add(1)
}

// recoveryLoop periodically dead-letters expired jobs with no attempts left.
func (p *Pool) recoveryLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(defaultRecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Recover(p.ctx)
			if err != nil {
				log.Printf("[Worker] recovery pass failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Worker] dead-lettered %d expired jobs", n)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
