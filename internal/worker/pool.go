package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/facewatch/internal/types"
)

// Pool shares a fixed set of PythonWorkers between goroutines. It satisfies
// the Embedder interfaces of the gallery and pipeline packages.
type Pool struct {
	idle chan *PythonWorker
	all  []*PythonWorker

	// retired receives workers taken out of rotation after a protocol failure.
	retired chan *PythonWorker
	broken  atomic.Int32
	dead    chan struct{} // closed once every worker is retired

	closeOnce sync.Once
	done      chan struct{}
}

// NewPool starts n workers. If any fails to start the ones already running are stopped.
func NewPool(ctx context.Context, n int, cfg Config) (*Pool, error) {
	if n < 1 {
		n = 1
	}
	workers := make([]*PythonWorker, 0, n)
	for i := 0; i < n; i++ {
		w, err := NewPythonWorker(ctx, i, cfg)
		if err != nil {
			for _, started := range workers {
				started.Close()
			}
			return nil, err
		}
		workers = append(workers, w)
	}
	return newPool(workers), nil
}

func newPool(workers []*PythonWorker) *Pool {
	p := &Pool{
		idle:    make(chan *PythonWorker, len(workers)),
		all:     workers,
		retired: make(chan *PythonWorker, len(workers)),
		dead:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, w := range workers {
		p.idle <- w
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.all) }

// Healthy returns the number of workers still in rotation.
func (p *Pool) Healthy() int { return len(p.all) - int(p.broken.Load()) }

// Embed runs img through the next idle worker. Errors other than
// types.ErrFrameRejected mean the worker process is broken: its captured
// stderr is attached to the error and the worker is retired, since a late
// reply still in its pipe would be read as the answer to the next frame.
func (p *Pool) Embed(ctx context.Context, img []byte) ([]types.FaceResult, error) {
	var w *PythonWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	case <-p.dead:
		return nil, ErrBroken
	}

	faces, err := w.ProcessFrame(img)
	if err != nil && !errors.Is(err, types.ErrFrameRejected) {
		w.Close()
		err = p.describe(w, err)
		p.retire(w)
		return nil, err
	}
	p.idle <- w
	if err != nil {
		return nil, p.describe(w, err)
	}
	return faces, nil
}

func (p *Pool) retire(w *PythonWorker) {
	p.retired <- w
	if int(p.broken.Add(1)) == len(p.all) {
		close(p.dead)
	}
}

func (p *Pool) describe(w *PythonWorker, err error) error {
	if w.Cmd == nil {
		return fmt.Errorf("worker %d: %w", w.ID, err)
	}
	if logs := w.Cmd.StderrTail(2048); logs != "" {
		return fmt.Errorf("worker %d: %w\n%s", w.ID, err, logs)
	}
	return fmt.Errorf("worker %d: %w", w.ID, err)
}

// Close stops every worker. In-flight Embed calls finish first.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		for range p.all {
			select {
			case w := <-p.idle:
				w.Close()
			case <-p.retired:
			}
		}
	})
}
