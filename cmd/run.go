package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/facewatch/internal/capture"
	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/matchstate"
	"github.com/andresmejia3/facewatch/internal/metrics"
	"github.com/andresmejia3/facewatch/internal/pipeline"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Match faces in a live camera or video stream",
	Long: `Reads frames through ffmpeg, ranks every detected face against the gallery
and writes annotated MJPEG to --output (pipe "-" into ffplay to watch it).
The best match of the latest frame is published to the configured state backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRun(cmd.Context(), cfg)
	},
}

func init() {
	d := config.New()
	fs := runCmd.Flags()
	addGalleryFlags(fs)
	addWorkerFlags(fs)
	addStateFlags(fs)
	fs.Bool("gallery-from-db", d.GalleryFromDB, "Use embeddings cached by `gallery index` instead of embedding images at startup")
	fs.Int("top-k", d.TopK, "Ranked identities reported per face")
	fs.Float64("downsample", d.Downsample, "Scale factor applied to frames before detection")
	fs.Int("process-every", d.ProcessEvery, "Run detection on one frame out of every N; others reuse the last result")
	fs.IntP("engines", "e", d.Engines, "Frames processed in parallel (one embedder process each)")
	fs.StringP("input", "i", d.Input, "Camera device or video file")
	fs.String("input-format", d.InputFormat, "ffmpeg input format, e.g. v4l2 or avfoundation")
	fs.String("ffmpeg", d.FFmpeg, "ffmpeg binary")
	fs.Int("fps", d.FPS, "Input frame rate (0 keeps the device default)")
	fs.StringP("output", "o", d.Output, `Annotated MJPEG destination: "-" for stdout, a file path, or empty to discard`)
	fs.Int("jpeg-quality", d.JPEGQuality, "JPEG quality of annotated frames")
	fs.String("metrics-addr", d.MetricsAddr, "Serve Prometheus metrics on this address, e.g. :9090")
	fs.Duration("status-interval", d.StatusInterval, "How often the current top match is logged")
	rootCmd.AddCommand(runCmd)
}

func runRun(ctx context.Context, c *config.Config) error {
	log := logger.Named("run")

	pool, err := startWorkers(ctx, c, c.Engines)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, err := loadGallery(ctx, c, pool)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "📚 Gallery ready: %d identities\n", g.Size())

	backend, release, err := openStateStore(ctx, c)
	if err != nil {
		utils.ShowError("Failed to open state backend", err, nil)
		return err
	}
	defer release()

	stateOpts := []matchstate.Option{matchstate.WithRunID(uuid.NewString()), matchstate.WithLogger(log)}
	if backend != nil {
		stateOpts = append(stateOpts, matchstate.WithStore(backend))
	}
	state := matchstate.New(stateOpts...)

	m := metrics.NewManager()
	if c.MetricsAddr != "" {
		stop := serveMetrics(ctx, c.MetricsAddr, m, log)
		defer stop()
	}

	p, err := pipeline.New(g, pool,
		pipeline.WithTopK(c.TopK),
		pipeline.WithDownsample(c.Downsample),
		pipeline.WithProcessEvery(c.ProcessEvery),
		pipeline.WithEngines(c.Engines),
		pipeline.WithState(state),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(log),
	)
	if err != nil {
		utils.ShowError("Invalid pipeline settings", err, nil)
		return err
	}

	sink, closeSink, err := openSink(c.Output, c.JPEGQuality)
	if err != nil {
		utils.ShowError("Failed to open output", err, nil)
		return err
	}
	defer closeSink()

	src, err := capture.Open(ctx, capture.Config{FFmpeg: c.FFmpeg, Input: c.Input, Format: c.InputFormat, FPS: c.FPS})
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	defer src.Close()

	fmt.Fprintf(os.Stderr, "🎥 Watching %s (top-%d, every %d frame(s))\n", c.Input, c.TopK, c.ProcessEvery)
	statusCtx, stopStatus := context.WithCancel(ctx)
	go reportTopMatch(statusCtx, state, c.StatusInterval, log)

	stats, err := p.Run(ctx, src, sink)
	stopStatus()
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, capture.ErrCameraUnavailable) {
			utils.ShowError("Camera unavailable", err, src.Command())
		} else {
			utils.ShowError("Pipeline stopped", err, nil)
		}
		return err
	}

	fmt.Fprintf(os.Stderr, "🏁 Stopped. Processed %d of %d frames, %d face(s) detected.\n",
		stats.FramesProcessed, stats.FramesRead, stats.FacesDetected)
	if rec, ok := state.Read(); ok {
		fmt.Fprintf(os.Stderr, "👤 Last match: %s (%.2f%%)\n", rec.DisplayName, rec.Similarity)
	}
	return nil
}

// openSink maps the output setting to a frame sink.
func openSink(output string, quality int) (pipeline.FrameSink, func(), error) {
	switch output {
	case "":
		return capture.Discard{}, func() {}, nil
	case "-":
		return capture.NewMJPEGWriter(os.Stdout, quality), func() {}, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, nil, err
	}
	return capture.NewMJPEGWriter(f, quality), func() { f.Close() }, nil
}

// reportTopMatch logs the published match whenever it changes.
func reportTopMatch(ctx context.Context, state *matchstate.State, every time.Duration, log logger.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, ok := state.Read()
			if !ok || rec.Seq == lastSeq {
				continue
			}
			lastSeq = rec.Seq
			log.Info(ctx, "top match",
				logger.String("identity", rec.IdentityID),
				logger.Float64("similarity", rec.Similarity),
				logger.Uint64("seq", rec.Seq))
		}
	}
}

// serveMetrics exposes m until ctx ends or the returned func is called.
func serveMetrics(ctx context.Context, addr string, m *metrics.Manager, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server failed", logger.String("addr", addr), logger.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
