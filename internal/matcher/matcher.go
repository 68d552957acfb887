// Package matcher ranks a probe embedding against a gallery by Euclidean distance.
package matcher

import (
	"fmt"
	"math"

	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/types"
	"gonum.org/v1/gonum/floats"
)

// Match is one ranked gallery identity.
type Match struct {
	Rank           int // 1-based
	Index          int // position in the gallery
	IdentityID     string
	DisplayName    string
	ReferenceImage string
	Distance       float64
	Similarity     float64
}

// Result holds the k closest identities, nearest first.
type Result []Match

// Top returns the rank-1 match.
func (r Result) Top() (Match, bool) {
	if len(r) == 0 {
		return Match{}, false
	}
	return r[0], true
}

// ProbeMatch ties a detected face to its ranking.
type ProbeMatch struct {
	Box    types.Box
	Result Result
}

// Similarity maps a distance d >= 0 onto (0, 100]; 0 maps to 100.
func Similarity(d float64) float64 {
	return 100 / (1 + d)
}

// Rank returns the k gallery identities nearest to probe. Ranks are chosen by
// repeatedly taking the minimum distance among identities not yet chosen, so
// no identity appears twice. Equal distances resolve to the lower gallery index.
func Rank(probe []float64, g *gallery.Gallery, k int) (Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	n := g.Size()
	if k > n {
		return nil, fmt.Errorf("%w: k=%d, gallery has %d", ErrInsufficientGallerySize, k, n)
	}
	if len(probe) != g.Dim() {
		return nil, fmt.Errorf("%w: probe has %d values, gallery has %d", ErrDimensionMismatch, len(probe), g.Dim())
	}

	dists := Distances(probe, g)
	taken := make([]bool, n)
	out := make(Result, 0, k)

	for rank := 1; rank <= k; rank++ {
		best := -1
		for i, d := range dists {
			if taken[i] {
				continue
			}
			// Strict < keeps the earliest index on ties.
			if best == -1 || d < dists[best] {
				best = i
			}
		}
		taken[best] = true

		id, _ := g.At(best)
		out = append(out, Match{
			Rank:           rank,
			Index:          best,
			IdentityID:     id.ID,
			DisplayName:    id.DisplayName,
			ReferenceImage: id.ReferenceImage,
			Distance:       dists[best],
			Similarity:     Similarity(dists[best]),
		})
	}
	return out, nil
}

// Distances returns the Euclidean distance from probe to every gallery
// embedding, in gallery order. NaN distances are mapped to +Inf so they rank last.
func Distances(probe []float64, g *gallery.Gallery) []float64 {
	dists := make([]float64, g.Size())
	for i := range dists {
		d := floats.Distance(probe, g.Embedding(i), 2)
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		dists[i] = d
	}
	return dists
}
