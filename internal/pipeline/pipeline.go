// Package pipeline turns captured frames into ranked, annotated frames and
// keeps the shared top match current.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/andresmejia3/facewatch/internal/annotate"
	"github.com/andresmejia3/facewatch/internal/capture"
	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/matcher"
	"github.com/andresmejia3/facewatch/internal/matchstate"
	"github.com/andresmejia3/facewatch/internal/metrics"
	"github.com/andresmejia3/facewatch/internal/types"
	"golang.org/x/image/draw"
)

// ErrInvalidOption reports an out-of-range pipeline setting.
var ErrInvalidOption = errors.New("invalid pipeline option")

// probeQuality is the JPEG quality of the downscaled probe sent to the embedder.
const probeQuality = 90

// Pipeline is safe for concurrent ProcessFrame calls: the gallery is
// read-only and the match state is lock-free.
type Pipeline struct {
	gallery      *gallery.Gallery
	embedder     gallery.Embedder
	topK         int
	downsample   float64
	processEvery int
	engines      int
	annotator    *annotate.Annotator
	state        *matchstate.State
	metrics      *metrics.Manager
	log          logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTopK sets how many ranked identities are reported per face.
func WithTopK(k int) Option { return func(p *Pipeline) { p.topK = k } }

// WithDownsample sets the factor frames are shrunk by before detection.
func WithDownsample(f float64) Option { return func(p *Pipeline) { p.downsample = f } }

// WithProcessEvery runs detection on one frame out of every n in Run.
func WithProcessEvery(n int) Option { return func(p *Pipeline) { p.processEvery = n } }

// WithEngines sets how many frames Run works on at once.
func WithEngines(n int) Option { return func(p *Pipeline) { p.engines = n } }

// WithAnnotator replaces the default annotator. Its Scale must be 1/downsample.
func WithAnnotator(a *annotate.Annotator) Option { return func(p *Pipeline) { p.annotator = a } }

// WithState publishes top matches into s instead of a private State.
func WithState(s *matchstate.State) Option { return func(p *Pipeline) { p.state = s } }

func WithMetrics(m *metrics.Manager) Option { return func(p *Pipeline) { p.metrics = m } }

func WithLogger(l logger.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New builds a pipeline over g. It fails if g cannot fill a top-K ranking.
func New(g *gallery.Gallery, emb gallery.Embedder, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		gallery:      g,
		embedder:     emb,
		topK:         3,
		downsample:   0.25,
		processEvery: 1,
		engines:      1,
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	switch {
	case g == nil || emb == nil:
		return nil, fmt.Errorf("%w: gallery and embedder are required", ErrInvalidOption)
	case p.topK < 1:
		return nil, fmt.Errorf("%w: k=%d", matcher.ErrInvalidK, p.topK)
	case g.Size() < p.topK:
		return nil, fmt.Errorf("%w: gallery has %d identities, top-%d requested",
			matcher.ErrInsufficientGallerySize, g.Size(), p.topK)
	case p.downsample <= 0 || p.downsample > 1:
		return nil, fmt.Errorf("%w: downsample %v", ErrInvalidOption, p.downsample)
	case p.processEvery < 1:
		return nil, fmt.Errorf("%w: process every %d", ErrInvalidOption, p.processEvery)
	case p.engines < 1:
		return nil, fmt.Errorf("%w: %d engines", ErrInvalidOption, p.engines)
	}

	if p.annotator == nil {
		p.annotator = annotate.New(1 / p.downsample)
	}
	if p.state == nil {
		p.state = matchstate.New(matchstate.WithLogger(p.log))
	}
	return p, nil
}

// Result is one processed frame.
type Result struct {
	Seq uint64
	// Frame is the annotated copy, or the input frame when no face was found.
	Frame image.Image
	// Matches holds one ranking per detected face, boxes in detector coordinates.
	// It is empty, never nil, when no face was found.
	Matches []matcher.ProbeMatch
}

// ProcessFrame detects, ranks and annotates the faces in frame and publishes
// the first face's best match under seq.
func (p *Pipeline) ProcessFrame(ctx context.Context, seq uint64, frame image.Image) (Result, error) {
	probe, err := capture.EncodeFrame(p.shrink(frame), probeQuality)
	if err != nil {
		return Result{}, fmt.Errorf("encode frame %d: %w", seq, err)
	}

	start := time.Now()
	faces, err := p.embedder.Embed(ctx, probe)
	p.metrics.ObserveEmbed(time.Since(start))
	if err != nil {
		p.metrics.EmbedError()
		if !errors.Is(err, types.ErrFrameRejected) {
			return Result{}, fmt.Errorf("embed frame %d: %w", seq, err)
		}
		p.log.Warn(ctx, "frame rejected by embedder", logger.Uint64("seq", seq), logger.Error(err))
		faces = nil
	}

	matches := make([]matcher.ProbeMatch, 0, len(faces))
	for _, face := range faces {
		start := time.Now()
		ranked, err := matcher.Rank(face.Vec, p.gallery, p.topK)
		p.metrics.ObserveRank(time.Since(start))
		if err != nil {
			return Result{}, fmt.Errorf("rank face in frame %d: %w", seq, err)
		}
		matches = append(matches, matcher.ProbeMatch{Box: face.Loc, Result: ranked})
	}
	p.metrics.FrameProcessed(len(matches))

	if len(matches) == 0 {
		return Result{Seq: seq, Frame: frame, Matches: matches}, nil
	}

	top, _ := matches[0].Result.Top()
	accepted := p.state.Update(ctx, seq, matchstate.TopMatch{
		IdentityID:     top.IdentityID,
		DisplayName:    top.DisplayName,
		ReferenceImage: top.ReferenceImage,
		Similarity:     top.Similarity,
	})
	p.metrics.StateUpdate(accepted)
	if !accepted {
		p.log.Debug(ctx, "dropped stale top match", logger.Uint64("seq", seq))
	}

	return Result{Seq: seq, Frame: p.annotator.Annotate(frame, matches), Matches: matches}, nil
}

// CurrentTopMatch returns the most recently published match; ok is false
// until a frame with a face has been processed.
func (p *Pipeline) CurrentTopMatch() (matchstate.Record, bool) {
	return p.state.Read()
}

// State exposes the shared slot for other readers.
func (p *Pipeline) State() *matchstate.State { return p.state }

// shrink scales frame by the downsample factor.
func (p *Pipeline) shrink(frame image.Image) image.Image {
	if p.downsample == 1 {
		return frame
	}
	b := frame.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*p.downsample)))
	h := max(1, int(math.Round(float64(b.Dy())*p.downsample)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), frame, b, draw.Src, nil)
	return dst
}
