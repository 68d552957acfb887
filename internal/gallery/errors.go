package gallery

import (
	"errors"
	"fmt"
)

var (
	// ErrGalleryLoad is matched by every *LoadError.
	ErrGalleryLoad = errors.New("gallery load failed")
	// ErrIndexOutOfRange is returned by At for an index outside [0, Size).
	ErrIndexOutOfRange = errors.New("gallery index out of range")
	// ErrEmpty is returned when a gallery would hold no identities.
	ErrEmpty = errors.New("gallery is empty")
	// ErrDuplicateID is returned when two identities share an ID.
	ErrDuplicateID = errors.New("duplicate identity id")
	// ErrDimension is returned when identities disagree on embedding length.
	ErrDimension = errors.New("inconsistent embedding dimension")
)

// LoadError reports the reference image that stopped the gallery from loading.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("gallery load failed for %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrGalleryLoad }

// ErrNoFace is wrapped in a LoadError when a reference image has no detectable face.
var ErrNoFace = errors.New("no face detected in reference image")
