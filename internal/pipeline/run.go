package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/facewatch/internal/capture"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/matcher"
	"github.com/andresmejia3/facewatch/internal/types"
	"golang.org/x/sync/errgroup"
)

// FrameSource yields encoded frames. Next returns io.EOF at the end of the stream.
type FrameSource interface {
	Next() ([]byte, error)
}

// FrameSink receives annotated frames in capture order.
type FrameSink interface {
	WriteFrame(img image.Image) error
}

// Stats summarises a Run.
type Stats struct {
	FramesRead      int
	FramesProcessed int
	FramesSkipped   int
	FramesDropped   int
	FacesDetected   int
}

// frameResult carries an engine's output to the aggregator.
type frameResult struct {
	seq       uint64
	frame     image.Image // nil when the frame could not be decoded
	matches   []matcher.ProbeMatch
	processed bool
}

// Run reads src until it ends, processes one frame out of every processEvery
// on the engine pool, and writes every frame to sink in capture order.
// Skipped frames are drawn with the matches of the last processed frame before them.
func (p *Pipeline) Run(ctx context.Context, src FrameSource, sink FrameSink) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	tasks := make(chan types.FrameTask, p.engines)
	results := make(chan frameResult, p.engines*2)

	// Producer
	g.Go(func() error {
		defer close(tasks)
		var seq uint64
		for {
			data, err := src.Next()
			if err != nil && ctx.Err() != nil {
				// The source was torn down by the cancellation.
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				if seq == 0 {
					return capture.ErrCameraUnavailable
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("read frame %d: %w", seq+1, err)
			}
			seq++
			p.metrics.FrameRead()

			task := types.FrameTask{Seq: seq, Data: data, Process: (seq-1)%uint64(p.processEvery) == 0}
			select {
			case tasks <- task:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// Engine pool
	g.Go(func() error {
		defer close(results)
		engines, ectx := errgroup.WithContext(ctx)
		for i := 0; i < p.engines; i++ {
			engines.Go(func() error {
				return p.engine(ectx, tasks, results)
			})
		}
		return engines.Wait()
	})

	// Aggregator
	var stats Stats
	g.Go(func() error {
		return p.aggregate(ctx, results, sink, &stats)
	})

	err := g.Wait()
	return stats, err
}

func (p *Pipeline) engine(ctx context.Context, tasks <-chan types.FrameTask, results chan<- frameResult) error {
	for task := range tasks {
		res := frameResult{seq: task.Seq, processed: task.Process}

		img, err := capture.DecodeFrame(task.Data)
		if err != nil {
			p.log.Warn(ctx, "dropping undecodable frame", logger.Uint64("seq", task.Seq), logger.Error(err))
		} else if task.Process {
			out, err := p.ProcessFrame(ctx, task.Seq, img)
			if err != nil {
				return err
			}
			res.frame, res.matches = out.Frame, out.Matches
		} else {
			res.frame = img
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// aggregate restores capture order, since engines finish out of order.
func (p *Pipeline) aggregate(ctx context.Context, results <-chan frameResult, sink FrameSink, stats *Stats) error {
	buffer := make(map[uint64]frameResult)
	next := uint64(1)
	var last []matcher.ProbeMatch

	for res := range results {
		buffer[res.seq] = res

		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			next++
			stats.FramesRead++

			if r.frame == nil {
				stats.FramesDropped++
				continue
			}

			frame := r.frame
			if r.processed {
				stats.FramesProcessed++
				stats.FacesDetected += len(r.matches)
				last = r.matches
			} else {
				stats.FramesSkipped++
				p.metrics.FrameSkipped()
				if len(last) > 0 {
					frame = p.annotator.Annotate(frame, last)
				}
			}

			if err := sink.WriteFrame(frame); err != nil {
				return fmt.Errorf("write frame %d: %w", r.seq, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
