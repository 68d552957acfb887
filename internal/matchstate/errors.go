package matchstate

import "errors"

// ErrInvalidInterval is returned by Poll for a non-positive polling interval.
var ErrInvalidInterval = errors.New("invalid poll interval")
