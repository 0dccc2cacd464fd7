// Package workerpool implements the bounded goroutine pool that runs every
// on-demand transcode job (snapshot decodes, and anything else queued off
// the front-end's request path) without letting a burst of concurrent
// viewers spawn an unbounded number of decoder goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/acproxycam/acproxycam/internal/logging"
	"github.com/acproxycam/acproxycam/internal/metrics"
)

var log = logging.L("workerpool")

// TranscodeJob is one unit of transcode work submitted to the pool: a
// snapshot decode, or any other CPU-bound codec call a front-end handler
// would otherwise run inline.
type TranscodeJob func()

// Pool is a bounded goroutine pool with a fixed-size job queue, shared by
// every printer's front-end so the daemon's total decode concurrency stays
// capped regardless of how many printers or viewers are active at once.
type Pool struct {
	maxWorkers int
	queue      chan TranscodeJob
	wg         sync.WaitGroup
	accepting  atomic.Bool
	stopOnce   sync.Once
	closeOnce  sync.Once
	stopChan   chan struct{}

	queued atomic.Int64
}

// New creates a pool with maxWorkers goroutines and a job queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		maxWorkers: maxWorkers,
		queue:      make(chan TranscodeJob, queueSize),
		stopChan:   make(chan struct{}),
	}
	p.accepting.Store(true)

	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Info("transcode pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Submit enqueues a job. Returns false if the pool has stopped accepting or
// the queue is full — the front-end's snapshot handler then fails the
// request instead of blocking it or running the decode inline.
// wg.Add is called here (before enqueue) to prevent a race with Drain.
func (p *Pool) Submit(job TranscodeJob) bool {
	if !p.accepting.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- job:
		metrics.TranscodeQueueDepth.Set(float64(p.queued.Add(1)))
		return true
	default:
		p.wg.Done() // undo the Add since the job was not enqueued
		log.Warn("transcode pool queue full, job rejected")
		return false
	}
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for all in-flight and queued jobs to complete, respecting the
// context deadline. Call StopAccepting first to prevent new submissions.
// After Drain returns, the queue channel is closed so worker goroutines exit.
func (p *Pool) Drain(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("transcode pool drained")
	case <-ctx.Done():
		log.Warn("transcode pool drain timed out")
	}

	// Close queue so worker goroutines exit and are not leaked
	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for {
		select {
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.runJob(job)
		case <-p.stopChan:
			// Drain remaining queued jobs
			for {
				select {
				case job, ok := <-p.queue:
					if !ok {
						return
					}
					p.runJob(job)
				default:
					return
				}
			}
		}
	}
}

// runJob executes a single transcode job with panic recovery — a decoder
// call site panicking on malformed input must not take the whole pool down.
// wg.Done is called here to match the wg.Add in Submit.
func (p *Pool) runJob(job TranscodeJob) {
	defer p.wg.Done()
	metrics.TranscodeQueueDepth.Set(float64(p.queued.Add(-1)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("transcode job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}
