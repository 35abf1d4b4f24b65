package analysis

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/pkg/logger"
	"github.com/bobby854854854/LexiSense/service"
	"golang.org/x/sync/errgroup"
)

// Pool runs analysis jobs on a fixed number of workers. A contract is
// queued at most once while a job for it is pending or running.
type Pool struct {
	analyzer  *Analyzer
	extractor TextExtractor
	blobs     service.BlobStore
	workers   int
	queue     chan service.Job

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

func NewPool(analyzer *Analyzer, extractor TextExtractor, blobs service.BlobStore, cfg *config.AIConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &Pool{
		analyzer:  analyzer,
		extractor: extractor,
		blobs:     blobs,
		workers:   workers,
		queue:     make(chan service.Job, size),
		inflight:  make(map[string]struct{}),
	}
}

// Submit queues job without blocking. It returns false when the queue is
// full or closed. A job for a contract already in flight is accepted and
// dropped.
func (p *Pool) Submit(job service.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.inflight[job.ContractID]; ok {
		return true
	}

	select {
	case p.queue <- job:
		p.inflight[job.ContractID] = struct{}{}
		return true
	default:
		return false
	}
}

// Pending returns the number of contracts queued or running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Close stops accepting jobs. Run returns once the queued jobs are done.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// Run starts the workers and blocks until ctx is cancelled or the pool is
// closed and drained. Jobs left in the queue on cancellation stay
// processing for the sweeper.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job, ok := <-p.queue:
					if !ok {
						return nil
					}
					p.process(gctx, job)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pool) process(ctx context.Context, job service.Job) {
	defer p.done(job.ContractID)

	ctx = context.WithValue(ctx, logger.TenantKey, job.TenantID)
	ctx = logger.WithContract(ctx, job.ContractID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "analysis job panicked", "panic", r)
			p.analyzer.Fail(ctx, job.ContractID, categoryInternal)
		}
	}()

	text, err := p.extract(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn(ctx, "text extraction interrupted", "error", err)
			return
		}
		logger.Warn(ctx, "text extraction failed", "mime_type", job.MIMEType, "error", err)
		p.analyzer.Fail(ctx, job.ContractID, categoryExtraction)
		return
	}

	// failures are recorded on the contract
	_ = p.analyzer.Analyze(ctx, job.ContractID, text)
}

func (p *Pool) extract(ctx context.Context, job service.Job) (string, error) {
	data := job.Data
	if data == nil {
		var err error
		data, err = p.blobs.Get(ctx, job.StorageKey)
		if err != nil {
			return "", fmt.Errorf("failed to load %s: %w", job.StorageKey, err)
		}
	}
	return p.extractor.Extract(ctx, job, data)
}

func (p *Pool) done(contractID string) {
	p.mu.Lock()
	delete(p.inflight, contractID)
	p.mu.Unlock()
}
