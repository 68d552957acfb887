package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/matchstate"
	"github.com/andresmejia3/facewatch/internal/store"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/andresmejia3/facewatch/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"
)

// Flag groups. Defaults mirror config.New so --help shows the effective values
// when no file or env overrides them.

func addGalleryFlags(fs *pflag.FlagSet) {
	d := config.New()
	fs.String("gallery-pattern", d.GalleryPattern, "printf pattern of reference images, indexed from --gallery-start")
	fs.Int("gallery-start", d.GalleryStart, "First index substituted into --gallery-pattern")
	fs.Int("gallery-count", d.GalleryCount, "Number of reference images in --gallery-pattern")
	fs.String("gallery-glob", d.GalleryGlob, "Glob of reference images; replaces --gallery-pattern")
}

func addWorkerFlags(fs *pflag.FlagSet) {
	d := config.New()
	fs.String("python", d.Python, "Python interpreter running the embedder")
	fs.String("worker-script", d.WorkerScript, "Path to the embedder script")
	fs.String("worker-model", d.WorkerModel, "Face detector model: hog or cnn")
	fs.Int("worker-upsample", d.WorkerUpsample, "Times to upsample the image when detecting")
	fs.Duration("worker-timeout", d.WorkerTimeout, "Per-frame embedder deadline (0 disables)")
}

func addStateFlags(fs *pflag.FlagSet) {
	d := config.New()
	fs.String("state-backend", d.StateBackend, "Where the top match is published: memory, file or postgres")
	fs.String("state-path", d.StatePath, "Top-match file for the file backend")
}

func workerConfig(c *config.Config) worker.Config {
	return worker.Config{
		Python:      c.Python,
		Script:      c.WorkerScript,
		Model:       c.WorkerModel,
		Upsample:    c.WorkerUpsample,
		ReadTimeout: c.WorkerTimeout,
	}
}

func gallerySource(c *config.Config) gallery.Source {
	if c.GalleryGlob != "" {
		return gallery.GlobSource{Pattern: c.GalleryGlob}
	}
	return gallery.PatternSource{Pattern: c.GalleryPattern, Start: c.GalleryStart, Count: c.GalleryCount}
}

// embedGallery embeds every reference image, showing a progress bar on stderr.
func embedGallery(ctx context.Context, c *config.Config, emb gallery.Embedder) (*gallery.Gallery, error) {
	src := gallerySource(c)
	entries, err := src.Entries()
	if err != nil {
		return nil, err
	}

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("🖼️  Embedding gallery"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	g, err := gallery.Load(ctx, src, emb, gallery.WithProgress(func(gallery.Entry) { bar.Add(1) }))
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return g, err
}

// loadGallery builds the gallery from the database cache or from the reference images.
func loadGallery(ctx context.Context, c *config.Config, emb gallery.Embedder) (*gallery.Gallery, error) {
	if !c.GalleryFromDB {
		return embedGallery(ctx, c, emb)
	}
	db, err := store.New(ctx, c.DBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ids, err := db.LoadIdentities(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no indexed identities, run `facewatch gallery index` first", gallery.ErrEmpty)
	}
	return gallery.New(ids)
}

// stateStore is a durable top-match backend that can also be cleared.
type stateStore interface {
	matchstate.Store
	ClearTopMatch(ctx context.Context) error
}

// openStateStore returns the configured backend, or nil for the memory backend.
// The returned func releases it.
func openStateStore(ctx context.Context, c *config.Config) (stateStore, func(), error) {
	switch c.StateBackend {
	case config.BackendFile:
		return matchstate.NewFileStore(c.StatePath), func() {}, nil
	case config.BackendPostgres:
		db, err := store.New(ctx, c.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, db.Close, nil
	default:
		return nil, func() {}, nil
	}
}

// startWorkers launches n embedder processes.
func startWorkers(ctx context.Context, c *config.Config, n int) (*worker.Pool, error) {
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d embedder worker(s)...\n", n)
	pool, err := worker.NewPool(ctx, n, workerConfig(c))
	if err != nil {
		utils.ShowError("Failed to start embedder workers", err, nil)
		return nil, err
	}
	return pool, nil
}
