package api

import "context"

// Pool bounds the number of queries running concurrently for the offloaded
// query endpoint.
type Pool struct {
	jobs chan func()
	done chan struct{}
}

// NewPool starts workers goroutines consuming submitted jobs.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan func(), workers*2),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.done:
			return
		}
	}
}

// Submit queues a job, blocking while the queue is full unless ctx ends
// first.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers. Queued jobs that have not started are dropped.
func (p *Pool) Close() {
	close(p.done)
}
