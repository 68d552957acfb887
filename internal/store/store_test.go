package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/matchstate"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestToFloatConversions(t *testing.T) {
	in := []float64{0.25, -1.5, 3}
	out := toFloat64(toFloat32(in))
	for i := range in {
		if math.Abs(out[i]-in[i]) > 1e-6 {
			t.Errorf("value %d = %v, want %v", i, out[i], in[i])
		}
	}
}

// TestStoreIntegration runs against a real Postgres container with pgvector.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics when the Docker socket is missing; turn that into a skip.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("facewatch_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	t.Run("identities keep order", func(t *testing.T) {
		ids := []gallery.Identity{
			{ID: "students01", DisplayName: "students01", ReferenceImage: "static/Image/students01.png", Embedding: []float64{0.5, 0.25}},
			{ID: "students00", DisplayName: "students00", ReferenceImage: "static/Image/students00.png", Embedding: []float64{1, 0}},
		}
		if err := s.ReplaceIdentities(ctx, ids); err != nil {
			t.Fatalf("ReplaceIdentities failed: %v", err)
		}
		// Replacing twice must not trip the unique position constraint.
		if err := s.ReplaceIdentities(ctx, ids); err != nil {
			t.Fatalf("second ReplaceIdentities failed: %v", err)
		}

		got, err := s.LoadIdentities(ctx)
		if err != nil {
			t.Fatalf("LoadIdentities failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "students01" || got[1].ID != "students00" {
			t.Fatalf("unexpected identities %+v", got)
		}
		if got[0].Embedding[1] != 0.25 || got[0].ReferenceImage != "static/Image/students01.png" {
			t.Errorf("unexpected identity %+v", got[0])
		}
	})

	t.Run("top match is last write wins", func(t *testing.T) {
		if _, ok, err := s.LoadTopMatch(ctx); err != nil || ok {
			t.Fatalf("expected empty state, got ok=%v err=%v", ok, err)
		}

		now := time.Now().UTC().Truncate(time.Millisecond)
		save := func(run string, seq uint64, id string) {
			t.Helper()
			rec := matchstate.Record{RunID: run, Seq: seq, UpdatedAt: now, TopMatch: matchstate.TopMatch{IdentityID: id, DisplayName: id, Similarity: 80}}
			if err := s.SaveTopMatch(ctx, rec); err != nil {
				t.Fatalf("SaveTopMatch failed: %v", err)
			}
		}
		load := func() matchstate.Record {
			t.Helper()
			rec, ok, err := s.LoadTopMatch(ctx)
			if err != nil || !ok {
				t.Fatalf("LoadTopMatch: ok=%v err=%v", ok, err)
			}
			return rec
		}

		save("run-a", 5, "x")
		save("run-a", 3, "stale")
		if got := load(); got.IdentityID != "x" || got.Seq != 5 {
			t.Errorf("stale write replaced record: %+v", got)
		}

		save("run-b", 1, "y")
		if got := load(); got.IdentityID != "y" || got.RunID != "run-b" {
			t.Errorf("new run did not replace record: %+v", got)
		}

		if err := s.ClearTopMatch(ctx); err != nil {
			t.Fatal(err)
		}
		if _, ok, _ := s.LoadTopMatch(ctx); ok {
			t.Error("record survived ClearTopMatch")
		}
	})

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
