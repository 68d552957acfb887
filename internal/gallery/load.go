package gallery

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facewatch/internal/types"
)

// Embedder detects faces in an encoded image and returns one embedding per face.
type Embedder interface {
	Embed(ctx context.Context, img []byte) ([]types.FaceResult, error)
}

type loadOptions struct {
	progress func(Entry)
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithProgress calls fn after each reference image has been embedded.
func WithProgress(fn func(Entry)) LoadOption {
	return func(o *loadOptions) { o.progress = fn }
}

// Load embeds every reference image from src. Any image without a detectable
// face aborts the load: a partial gallery would shift the index-to-identity mapping.
// When an image holds several faces the first reported one is used.
func Load(ctx context.Context, src Source, emb Embedder, opts ...LoadOption) (*Gallery, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := src.Entries()
	if err != nil {
		return nil, &LoadError{Path: "<source>", Err: err}
	}

	ids := make([]Identity, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return nil, &LoadError{Path: e.Path, Err: err}
		}
		faces, err := emb.Embed(ctx, data)
		if err != nil {
			return nil, &LoadError{Path: e.Path, Err: err}
		}
		if len(faces) == 0 {
			return nil, &LoadError{Path: e.Path, Err: ErrNoFace}
		}
		ids = append(ids, Identity{
			ID:             e.ID,
			DisplayName:    e.Name,
			Embedding:      faces[0].Vec,
			ReferenceImage: e.Path,
		})
		if o.progress != nil {
			o.progress(e)
		}
	}

	g, err := New(ids)
	if err != nil {
		return nil, &LoadError{Path: "<gallery>", Err: fmt.Errorf("validate: %w", err)}
	}
	return g, nil
}
