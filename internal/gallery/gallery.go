// Package gallery holds the fixed set of known identities and their reference
// embeddings. A Gallery is immutable once built and safe for concurrent reads.
package gallery

import (
	"fmt"
)

// Identity is one known person.
type Identity struct {
	ID             string
	DisplayName    string
	Embedding      []float64
	ReferenceImage string
}

// Gallery is an ordered, read-only set of identities sharing one embedding dimension.
type Gallery struct {
	identities []Identity
	dim        int
}

// New validates ids and builds a Gallery. Order is preserved.
func New(ids []Identity) (*Gallery, error) {
	if len(ids) == 0 {
		return nil, ErrEmpty
	}
	dim := len(ids[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("%w: identity %q has an empty embedding", ErrDimension, ids[0].ID)
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]Identity, len(ids))
	for i, id := range ids {
		if _, dup := seen[id.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id.ID)
		}
		seen[id.ID] = struct{}{}
		if len(id.Embedding) != dim {
			return nil, fmt.Errorf("%w: identity %q has %d values, want %d", ErrDimension, id.ID, len(id.Embedding), dim)
		}
		if id.DisplayName == "" {
			id.DisplayName = id.ID
		}
		// Copy so callers can't mutate the gallery through their slice.
		id.Embedding = append([]float64(nil), id.Embedding...)
		out[i] = id
	}
	return &Gallery{identities: out, dim: dim}, nil
}

// Size returns the number of identities.
func (g *Gallery) Size() int { return len(g.identities) }

// Dim returns the embedding dimension shared by every identity.
func (g *Gallery) Dim() int { return g.dim }

// At returns the identity at index i.
func (g *Gallery) At(i int) (Identity, error) {
	if i < 0 || i >= len(g.identities) {
		return Identity{}, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, i, len(g.identities))
	}
	return g.identities[i], nil
}

// Embedding returns the stored vector at i without copying. Callers must not modify it.
func (g *Gallery) Embedding(i int) []float64 { return g.identities[i].Embedding }

// Identities returns a shallow copy of the identity list.
func (g *Gallery) Identities() []Identity {
	return append([]Identity(nil), g.identities...)
}
