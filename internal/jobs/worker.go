package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sjperalta/cropcoef-api/pkg/logger"
)

// ErrWorkerStopped is returned when a job is submitted after Shutdown
var ErrWorkerStopped = errors.New("worker detenido")

// Job represents a background task
type Job func(ctx context.Context) error

// Worker runs post-commit jobs on a fixed pool of goroutines fed by one
// queue, so jobs start in the order they were enqueued.
type Worker struct {
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	queue         chan Job
	maxConcurrent int

	mu      sync.RWMutex
	stopped bool

	stats   WorkerStats
	statsMu sync.RWMutex
}

// WorkerStats holds statistics about the worker.
// CompletedJobs counts finished jobs, failed ones included.
type WorkerStats struct {
	ActiveJobs    int   `json:"active_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
	QueueLength   int   `json:"queue_length"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// NewWorker creates a worker with N concurrent processors
func NewWorker(numWorkers int) *Worker {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		ctx:           ctx,
		cancel:        cancel,
		queue:         make(chan Job, 100),
		maxConcurrent: numWorkers,
	}

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.process(i)
	}

	return w
}

// Enqueue adds a job to the pool queue. When the queue is full the job runs
// on the caller's goroutine.
func (w *Worker) Enqueue(job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrWorkerStopped
	}

	select {
	case w.queue <- job:
	default:
		logger.Warn("[Worker] Queue full, running job synchronously")
		w.run("sync", job)
	}
	return nil
}

func (w *Worker) process(workerID int) {
	defer w.wg.Done()
	for job := range w.queue {
		w.run("pool", job, "worker", workerID)
	}
}

// run executes one job, recovering panics and keeping stats
func (w *Worker) run(kind string, job Job, attrs ...any) {
	w.trackJobStart()
	defer w.trackJobEnd()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Worker] Job panic", append(attrs, "kind", kind, "panic", r)...)
			w.trackJobFailure()
		}
	}()

	start := time.Now()
	if err := job(w.ctx); err != nil {
		logger.Error("[Worker] Job error", append(attrs, "kind", kind, "error", err)...)
		w.trackJobFailure()
		return
	}
	logger.Debug("[Worker] Job completed", append(attrs, "kind", kind, "duration", time.Since(start))...)
}

// Shutdown stops accepting jobs and runs everything already queued. The job
// context is cancelled only once the queue is drained.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()
}

// GetStats returns the current worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	stats := w.stats
	stats.QueueLength = len(w.queue)
	stats.MaxConcurrent = w.maxConcurrent
	return stats
}

func (w *Worker) trackJobStart() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs++
}

func (w *Worker) trackJobEnd() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.ActiveJobs--
	w.stats.CompletedJobs++
}

func (w *Worker) trackJobFailure() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.FailedJobs++
}
