package scanner

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/vouchersnap/vouchersnap/internal/logger"
)

// WorkerPool runs scan jobs on a fixed number of goroutines
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.RWMutex
	closed bool

	totalJobs     int64
	completedJobs int64
	panickedJobs  int64
	activeWorkers int64
}

// PoolStats is a snapshot of pool counters
type PoolStats struct {
	TotalJobs     int64
	CompletedJobs int64
	PanickedJobs  int64
	ActiveWorkers int64
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

// Start initializes and starts all workers in the pool
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

// worker processes jobs from the job queue
func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		wp.run(job)
	}
}

func (wp *WorkerPool) run(job func()) {
	atomic.AddInt64(&wp.activeWorkers, 1)
	defer func() {
		// a panicking job must not take the worker or the process down
		if r := recover(); r != nil {
			atomic.AddInt64(&wp.panickedJobs, 1)
			logger.WithField("panic", r).Error("Worker job panicked")
		}
		atomic.AddInt64(&wp.activeWorkers, -1)
		atomic.AddInt64(&wp.completedJobs, 1)
		wp.wg.Done()
	}()
	job()
}

// Submit queues a job, starting the workers if needed. It returns false
// once the pool is closed.
func (wp *WorkerPool) Submit(job func()) bool {
	wp.Start()

	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.wg.Add(1)
	atomic.AddInt64(&wp.totalJobs, 1)
	wp.jobQueue <- job
	return true
}

// Wait waits for all submitted jobs to complete
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Close stops accepting jobs; queued jobs still run.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.closed {
		return
	}
	wp.closed = true
	close(wp.jobQueue)
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return wp.workers
}

// GetStats returns current counters
func (wp *WorkerPool) GetStats() PoolStats {
	return PoolStats{
		TotalJobs:     atomic.LoadInt64(&wp.totalJobs),
		CompletedJobs: atomic.LoadInt64(&wp.completedJobs),
		PanickedJobs:  atomic.LoadInt64(&wp.panickedJobs),
		ActiveWorkers: atomic.LoadInt64(&wp.activeWorkers),
	}
}
