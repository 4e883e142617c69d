package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	iface "FusionServer/interface"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrPoolClosed is returned by Detect after Close.
var ErrPoolClosed = errors.New("detector pool closed")

// RestartDelay is how long a worker waits before restarting after a panic.
var RestartDelay = time.Second

type jobResult struct {
	results []iface.Result
	err     error
}

type jobPackage struct {
	image  gocv.Mat
	result chan jobResult
}

// Pool runs detection jobs on a fixed set of workers. Every worker owns one
// Backend, so a backend is never entered from two goroutines.
type Pool struct {
	jobs     chan jobPackage
	backends []iface.Backend
	log      *zap.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates workerNum backends with factory and starts one worker per
// backend. Backends created before a factory error are destroyed.
func NewPool(workerNum int, factory func() (iface.Backend, error), log *zap.Logger) (*Pool, error) {
	if workerNum < 1 {
		return nil, fmt.Errorf("workerNum must be at least 1, got %d", workerNum)
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		jobs: make(chan jobPackage),
		log:  log,
	}
	for i := 0; i < workerNum; i++ {
		b, err := factory()
		if err != nil {
			for _, made := range p.backends {
				made.Destroy()
			}
			return nil, errors.Wrapf(err, "create detector %d", i)
		}
		p.backends = append(p.backends, b)
	}
	for i, b := range p.backends {
		p.wg.Add(1)
		go p.runWorker(i, b)
	}
	return p, nil
}

func (p *Pool) runWorker(workerID int, backend iface.Backend) {
	var current *jobPackage
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker panic, restarting", zap.Int("worker", workerID), zap.Any("panic", r), zap.Duration("delay", RestartDelay))
			if current != nil {
				current.result <- jobResult{err: fmt.Errorf("detector worker %d panic: %v", workerID, r)}
				_ = current.image.Close()
			}
			time.Sleep(RestartDelay)
			go p.runWorker(workerID, backend)
			return
		}
		p.wg.Done()
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	p.log.Debug("worker started", zap.Int("worker", workerID))
	for job := range p.jobs {
		current = &job
		results, err := backend.Detect(job.image)
		current = nil
		if err := job.image.Close(); err != nil {
			p.log.Warn("closing job image", zap.Int("worker", workerID), zap.Error(err))
		}
		job.result <- jobResult{results: results, err: err}
	}
}

// Detect queues img on the pool and waits for the result. The image is cloned,
// so the caller keeps ownership of img.
func (p *Pool) Detect(ctx context.Context, img gocv.Mat) ([]iface.Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	job := jobPackage{image: img.Clone(), result: make(chan jobResult, 1)}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		_ = job.image.Close()
		return nil, ctx.Err()
	}
	select {
	case r := <-job.result:
		return r.results, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckConfig reports the configuration of the first backend. All backends are
// built by the same factory.
func (p *Pool) CheckConfig() iface.EngineConfig {
	return p.backends[0].CheckConfig()
}

// Size is the number of workers.
func (p *Pool) Size() int { return len(p.backends) }

// Close stops accepting jobs, waits for the workers and destroys the backends.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.wg.Wait()
		for _, b := range p.backends {
			b.Destroy()
		}
	})
}
