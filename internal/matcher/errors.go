package matcher

import "errors"

var (
	// ErrInsufficientGallerySize is returned when k exceeds the gallery size.
	ErrInsufficientGallerySize = errors.New("insufficient gallery size")
	// ErrDimensionMismatch is returned when the probe and gallery embeddings differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidK is returned for k < 1.
	ErrInvalidK = errors.New("k must be >= 1")
)
