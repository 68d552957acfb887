package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facewatch/internal/types"
)

// fakeEmbedder maps file contents to canned detector output.
type fakeEmbedder struct {
	faces map[string][]types.FaceResult
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, img []byte) ([]types.FaceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.faces[string(img)], nil
}

func writeImages(t *testing.T, dir string, contents map[string]string) {
	t.Helper()
	for name, body := range contents {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name    string
		ids     []Identity
		wantErr error
	}{
		{name: "empty", ids: nil, wantErr: ErrEmpty},
		{
			name: "duplicate id",
			ids: []Identity{
				{ID: "a", Embedding: []float64{1}},
				{ID: "a", Embedding: []float64{2}},
			},
			wantErr: ErrDuplicateID,
		},
		{
			name: "dimension mismatch",
			ids: []Identity{
				{ID: "a", Embedding: []float64{1, 2}},
				{ID: "b", Embedding: []float64{1}},
			},
			wantErr: ErrDimension,
		},
		{
			name:    "zero dimension",
			ids:     []Identity{{ID: "a"}},
			wantErr: ErrDimension,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ids)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAtAndDefaults(t *testing.T) {
	src := []float64{1, 2, 3}
	g, err := New([]Identity{
		{ID: "students00", Embedding: src},
		{ID: "students01", DisplayName: "Ada", Embedding: []float64{4, 5, 6}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Size() != 2 || g.Dim() != 3 {
		t.Fatalf("Size/Dim = %d/%d, want 2/3", g.Size(), g.Dim())
	}

	id, err := g.At(0)
	if err != nil {
		t.Fatal(err)
	}
	if id.DisplayName != "students00" {
		t.Errorf("expected display name to default to ID, got %q", id.DisplayName)
	}

	src[0] = 99
	if g.Embedding(0)[0] != 1 {
		t.Error("gallery shares memory with caller slice")
	}

	if _, err := g.At(2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("At(2) error = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := g.At(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("At(-1) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestPatternSource(t *testing.T) {
	entries, err := PatternSource{Pattern: "static/Image/students%02d.png", Count: 3}.Entries()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"students00", "students01", "students02"}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Errorf("entry %d ID = %q, want %q", i, e.ID, want[i])
		}
	}
	if entries[2].Path != "static/Image/students02.png" {
		t.Errorf("unexpected path %q", entries[2].Path)
	}

	if _, err := (PatternSource{Pattern: "plain.png", Count: 1}).Entries(); err == nil {
		t.Error("expected error for pattern without verb")
	}
	if _, err := (PatternSource{Pattern: "s%d.png", Count: 0}).Entries(); err == nil {
		t.Error("expected error for zero count")
	}
}

func TestGlobSourceIsSorted(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{"c.png": "c", "a.png": "a", "b.png": "b"})

	entries, err := GlobSource{Pattern: filepath.Join(dir, "*.png")}.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].ID != "a" || entries[2].ID != "c" {
		t.Errorf("unexpected order: %+v", entries)
	}

	if _, err := (GlobSource{Pattern: filepath.Join(dir, "*.jpg")}).Entries(); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty for no matches, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{"p00.png": "one", "p01.png": "two"})

	emb := &fakeEmbedder{faces: map[string][]types.FaceResult{
		"one": {{Vec: []float64{0, 0}}},
		// Two faces: the first is used.
		"two": {{Vec: []float64{1, 1}}, {Vec: []float64{9, 9}}},
	}}

	var progressed int
	g, err := Load(context.Background(), PatternSource{Pattern: filepath.Join(dir, "p%02d.png"), Count: 2}, emb,
		WithProgress(func(Entry) { progressed++ }))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if g.Size() != 2 || progressed != 2 {
		t.Fatalf("Size = %d, progress = %d", g.Size(), progressed)
	}
	id, _ := g.At(1)
	if id.Embedding[0] != 1 || id.ReferenceImage != filepath.Join(dir, "p01.png") {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestLoadFailsOnFacelessImage(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{"p00.png": "one", "p01.png": "blank"})

	emb := &fakeEmbedder{faces: map[string][]types.FaceResult{
		"one": {{Vec: []float64{0, 0}}},
	}}

	_, err := Load(context.Background(), PatternSource{Pattern: filepath.Join(dir, "p%02d.png"), Count: 2}, emb)
	if !errors.Is(err, ErrGalleryLoad) {
		t.Fatalf("expected ErrGalleryLoad, got %v", err)
	}
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace in chain, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Path != filepath.Join(dir, "p01.png") {
		t.Errorf("expected LoadError for p01.png, got %v", err)
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(context.Background(), PatternSource{Pattern: filepath.Join(t.TempDir(), "x%d.png"), Count: 1}, &fakeEmbedder{})
	if !errors.Is(err, ErrGalleryLoad) {
		t.Errorf("expected ErrGalleryLoad, got %v", err)
	}
}

func TestLoadPropagatesEmbedderError(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, map[string]string{"p00.png": "one"})
	boom := errors.New("worker crashed")

	_, err := Load(context.Background(), PatternSource{Pattern: filepath.Join(dir, "p%02d.png"), Count: 1}, &fakeEmbedder{err: boom})
	if !errors.Is(err, boom) || !errors.Is(err, ErrGalleryLoad) {
		t.Errorf("expected wrapped worker error, got %v", err)
	}
}
