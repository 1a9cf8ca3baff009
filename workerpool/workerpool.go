package workerpool

import (
	"context"
	"errors"
	"sync"
)

// Task is a unit of work. Its error is collected by the pool.
type Task func(ctx context.Context) error

// WorkerPool runs queued tasks on a fixed number of goroutines.
type WorkerPool struct {
	maxWorker   int
	queuedTaskC chan Task
	quitChan    chan struct{}
	waitGroup   sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// New will create an instance of WorkerPool with room for size queued tasks.
func New(workers, size int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		maxWorker:   workers,
		queuedTaskC: make(chan Task, size),
		quitChan:    make(chan struct{}),
	}
}

// AddTask queues a task. It blocks while the queue is full.
func (wp *WorkerPool) AddTask(task Task) {
	wp.waitGroup.Add(1)
	wp.queuedTaskC <- task
}

// Run starts the workers. Tasks see ctx, the workers stop on Quit.
func (wp *WorkerPool) Run(ctx context.Context) {
	for i := 0; i < wp.maxWorker; i++ {
		go wp.worker(ctx)
	}
}

// TotalQueuedTask returns the total tasks left in the queue
func (wp *WorkerPool) TotalQueuedTask() int {
	return len(wp.queuedTaskC)
}

// Quit stops all workers. No task may be added afterwards.
func (wp *WorkerPool) Quit() {
	close(wp.quitChan)
	close(wp.queuedTaskC)
}

// Wait blocks until every added task has finished and returns their errors joined.
func (wp *WorkerPool) Wait() error {
	wp.waitGroup.Wait()
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return errors.Join(wp.errs...)
}

func (wp *WorkerPool) worker(ctx context.Context) {
	for {
		select {
		case task, ok := <-wp.queuedTaskC:
			if !ok {
				return
			}
			if err := task(ctx); err != nil {
				wp.mu.Lock()
				wp.errs = append(wp.errs, err)
				wp.mu.Unlock()
			}
			wp.waitGroup.Done()
		case <-wp.quitChan:
			return
		}
	}
}
