// Package annotate draws face boxes and ranked match labels onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/facewatch/internal/matcher"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxRed        = color.RGBA{R: 0xFF, A: 0xFF}
	labelWhite    = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	secondaryCyan = color.RGBA{G: 0xFF, B: 0xFF, A: 0xFF}
)

// Annotator renders ProbeMatches. It holds no per-frame state and is safe to
// share between engines.
type Annotator struct {
	// Scale maps detector coordinates back to the full frame (1 / downsample factor).
	Scale float64
	Face  font.Face

	BoxColor       color.Color
	TextColor      color.Color
	SecondaryColor color.Color

	Thickness  int // box outline width
	BandHeight int // filled label band at the bottom of the box
	LineStep   int // vertical spacing of the rank 2..K lines below the box
	TextInset  int
}

// New returns an Annotator with the default palette and the 7x13 bitmap face.
func New(scale float64) *Annotator {
	return &Annotator{
		Scale:          scale,
		Face:           basicfont.Face7x13,
		BoxColor:       boxRed,
		TextColor:      labelWhite,
		SecondaryColor: secondaryCyan,
		Thickness:      2,
		BandHeight:     20,
		LineStep:       15,
		TextInset:      6,
	}
}

// Label formats one ranked line, e.g. "students07 with 90.91%".
func Label(m matcher.Match) string {
	return fmt.Sprintf("%s with %.2f%%", m.DisplayName, m.Similarity)
}

// Annotate returns a copy of frame with every face drawn on it. frame is not modified.
func (a *Annotator) Annotate(frame image.Image, faces []matcher.ProbeMatch) *image.RGBA {
	b := frame.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, frame, b.Min, draw.Src)

	for _, pm := range faces {
		a.drawFace(dst, pm)
	}
	return dst
}

func (a *Annotator) drawFace(dst *image.RGBA, pm matcher.ProbeMatch) {
	box := pm.Box.Scale(a.Scale)
	// Detector coordinates are relative to the frame origin.
	r := image.Rect(box.Left, box.Top, box.Right, box.Bottom).Add(dst.Bounds().Min)
	if r.Empty() {
		return
	}
	t := a.Thickness

	edge := image.NewUniform(a.BoxColor)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), edge, image.Point{}, draw.Src)

	// Label band hangs inside the bottom edge of the box.
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-a.BandHeight, r.Max.X, r.Max.Y), edge, image.Point{}, draw.Src)

	x := r.Min.X + a.TextInset
	for i, m := range pm.Result {
		if i == 0 {
			a.text(dst, Label(m), x, r.Max.Y-a.TextInset, a.TextColor)
			continue
		}
		a.text(dst, Label(m), x, r.Max.Y+a.LineStep*i, a.SecondaryColor)
	}
}

func (a *Annotator) text(dst *image.RGBA, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: a.Face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
