// Package evalqueue runs coprocessor evaluations off the critical path.
// Handle creation enqueues a materialization job and returns immediately;
// a bounded worker pool drains the queue in the background.
package evalqueue

import (
	"log/slog"
	"runtime"
	"sync"
)

type Queue struct {
	log       *slog.Logger
	tasks     chan func()
	workerWG  sync.WaitGroup
	closeOnce sync.Once

	mu          sync.Mutex
	idle        *sync.Cond
	outstanding int
	closed      bool
}

type Config struct {
	WorkerCount int
	Buffer      int
}

func New(config Config, log *slog.Logger) *Queue {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}
	if config.Buffer < 1 {
		config.Buffer = 1024
	}

	q := &Queue{
		log:   log,
		tasks: make(chan func(), config.Buffer),
	}
	q.idle = sync.NewCond(&q.mu)

	for i := 0; i < config.WorkerCount; i++ {
		q.workerWG.Add(1)
		go q.worker()
	}

	return q
}

func (q *Queue) worker() {
	defer q.workerWG.Done()
	for task := range q.tasks {
		task()
		q.mu.Lock()
		q.outstanding--
		if q.outstanding == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}

// Submit enqueues a job, blocking when the buffer is full. Submit after
// Close reports false and drops the job.
func (q *Queue) Submit(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.outstanding++
	q.mu.Unlock()

	q.tasks <- job
	return true
}

// Resubmit re-enqueues a job from inside a running task. It counts the job
// before the current task finishes, so Wait never observes the queue idle
// between the retry being scheduled and picked up.
func (q *Queue) Resubmit(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.outstanding++
	q.mu.Unlock()

	go func() { q.tasks <- job }()
	return true
}

// Wait blocks until every submitted job has finished.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.outstanding > 0 {
		q.idle.Wait()
	}
}

// Close stops accepting new jobs, drains the outstanding ones and waits for
// the workers to exit. The closed flag is raised before draining so no
// submitter can race its channel send against the close.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		q.Wait()
		close(q.tasks)
		q.workerWG.Wait()
	})
}
