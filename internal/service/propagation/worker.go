package propagation

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/metrics"
)

type job struct {
	orgID     uuid.UUID
	requestID uuid.UUID
}

// WorkerPool decouples the approval transaction from provider I/O. Approve
// enqueues; a fixed set of workers drains the queue and runs orchestration.
// The queue is bounded: a full queue rejects the enqueue rather than blocking
// the decision path, and the auditor's stuck-attempt sweep recovers anything
// that was rejected.
type WorkerPool struct {
	logger       *zap.Logger
	orchestrator *Orchestrator
	jobs         chan job
	workers      int

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a propagation worker pool
func NewWorkerPool(logger *zap.Logger, orchestrator *Orchestrator, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WorkerPool{
		logger:       logger,
		orchestrator: orchestrator,
		jobs:         make(chan job, queueSize),
		workers:      workers,
	}
}

// Start launches the workers. The context bounds every orchestration run;
// cancel it and call Stop to drain.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("propagation workers started", zap.Int("workers", p.workers))
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		metrics.SetQueueDepth(len(p.jobs))
		if err := p.orchestrator.Run(ctx, j.orgID, j.requestID); err != nil {
			p.logger.Error("propagation run failed",
				zap.Int("worker", id),
				zap.String("request_id", j.requestID.String()),
				zap.Error(err))
		}
	}
}

// Enqueue hands a request to the pool without blocking. The send happens
// under the same mutex Stop closes the channel under, so an enqueue racing a
// shutdown gets a clean error instead of a send on a closed channel.
func (p *WorkerPool) Enqueue(orgID, requestID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domainerrors.NewInternalError("propagation queue is shut down")
	}

	select {
	case p.jobs <- job{orgID: orgID, requestID: requestID}:
		metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		return domainerrors.NewInternalError("propagation queue is full")
	}
}

// Stop closes the queue and waits for in-flight runs to finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("propagation workers stopped")
}
