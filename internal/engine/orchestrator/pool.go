package orchestrator

import (
	"fmt"
	"sync"

	"github.com/studyforge/studyforge/internal/metrics"
	"github.com/studyforge/studyforge/internal/shared/apperr"
)

// pool is a bounded worker pool with a fixed backlog. Submit never blocks:
// when the backlog is full it fails fast instead of queuing unboundedly.
type pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func newPool(workers, backlog int) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{
		tasks: make(chan func(), backlog),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.PoolBacklogDepth.Set(float64(len(p.tasks)))
		task()
	}
}

// Submit schedules task for execution, or fails fast when the backlog
// is full
func (p *pool) Submit(task func()) error {
	select {
	case p.tasks <- task:
		metrics.PoolBacklogDepth.Set(float64(len(p.tasks)))
		return nil
	default:
		metrics.PoolRejectedTotal.Inc()
		return fmt.Errorf("worker backlog full: %w", apperr.ErrResourceExhausted)
	}
}

// Shutdown stops accepting work and waits for in-flight tasks to finish
func (p *pool) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
