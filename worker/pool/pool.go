package pool

import (
	"context"
	"sync"
)

// WorkerPool bounds how many jobs run at once. Jobs submitted after ctx is
// done are dropped without running.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Submit schedules job and reports through the returned channel whether it
// ran. The channel is closed after the job returns or is dropped.
func (p *WorkerPool) Submit(ctx context.Context, job func(context.Context)) <-chan bool {
	ran := make(chan bool, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(ran)

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			job(ctx)
			ran <- true
		case <-ctx.Done():
			ran <- false
		}
	}()
	return ran
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
