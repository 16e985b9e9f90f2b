package worker

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/rs/zerolog/log"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool hands out idle workers. Each request holds one worker for its duration,
// so up to len(workers) requests run in parallel.
type Pool struct {
	workers []*PythonWorker
	idle    chan *PythonWorker
	done    chan struct{}
}

// NewPool starts n workers running script.
func NewPool(ctx context.Context, n int, script string) (*Pool, error) {
	if n < 1 {
		n = 1
	}
	workers := make([]*PythonWorker, 0, n)
	for i := 0; i < n; i++ {
		w, err := NewPythonWorker(ctx, i, script)
		if err != nil {
			for _, started := range workers {
				started.Close()
			}
			return nil, err
		}
		workers = append(workers, w)
	}
	log.Info().Int("workers", n).Msg("worker pool ready")
	return newPoolFromWorkers(workers...), nil
}

func newPoolFromWorkers(workers ...*PythonWorker) *Pool {
	p := &Pool{
		workers: workers,
		idle:    make(chan *PythonWorker, len(workers)),
		done:    make(chan struct{}),
	}
	for _, w := range workers {
		p.idle <- w
	}
	return p
}

// Size is the number of worker processes.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Acquire blocks until a worker is idle, ctx ends, or the pool closes.
func (p *Pool) Acquire(ctx context.Context) (*PythonWorker, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case w := <-p.idle:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

// Release returns w to the idle set.
func (p *Pool) Release(w *PythonWorker) {
	p.idle <- w
}

// Do runs fn on an idle worker.
func (p *Pool) Do(ctx context.Context, fn func(w *PythonWorker) error) error {
	w, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(w)
	return fn(w)
}

// Ping checks every worker.
func (p *Pool) Ping(ctx context.Context) error {
	for range p.workers {
		w, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		err = w.Ping()
		p.Release(w)
		if err != nil {
			return fmt.Errorf("worker %d not ready: %w", w.ID, err)
		}
	}
	return nil
}

// Detect implements face.Service on top of the pool.
func (p *Pool) Detect(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error) {
	var faces []types.DetectedFace
	err := p.Do(ctx, func(w *PythonWorker) error {
		var err error
		faces, err = w.Detect(frame)
		return err
	})
	return faces, err
}

// Close stops every worker. Requests in flight finish first.
func (p *Pool) Close() {
	select {
	case <-p.done:
		return
	default:
	}
	close(p.done)
	for range p.workers {
		w := <-p.idle
		w.Close()
	}
}
