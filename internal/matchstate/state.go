// Package matchstate keeps the most recent top match. One writer (the frame
// pipeline) and any number of readers share it without locks: readers may see a
// value that is one frame old, never a half-written one.
package matchstate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facewatch/internal/logger"
)

// TopMatch is the rank-1 identity of a processed frame.
type TopMatch struct {
	IdentityID     string  `json:"identity_id"`
	DisplayName    string  `json:"display_name"`
	ReferenceImage string  `json:"reference_image"`
	Similarity     float64 `json:"similarity"`
}

// Record is a TopMatch stamped with the frame that produced it.
type Record struct {
	TopMatch
	RunID     string    `json:"run_id"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Newer reports whether r supersedes prev: a different run always does,
// otherwise the higher sequence wins.
func (r Record) Newer(prev Record) bool {
	return r.RunID != prev.RunID || r.Seq > prev.Seq
}

// Loader reads a persisted record. ok is false when nothing was ever written.
type Loader interface {
	LoadTopMatch(ctx context.Context) (rec Record, ok bool, err error)
}

// Store persists records. SaveTopMatch must replace the stored record in one
// atomic step and ignore records older than the stored one from the same run.
type Store interface {
	Loader
	SaveTopMatch(ctx context.Context, rec Record) error
}

// State is the shared last-write-wins slot.
type State struct {
	slot  atomic.Pointer[Record]
	runID string
	store Store
	log   logger.Logger
	now   func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithStore mirrors every accepted update into s.
func WithStore(s Store) Option {
	return func(st *State) { st.store = s }
}

// WithRunID tags records so persisted state from an earlier process is replaced
// even though sequence numbers restart.
func WithRunID(id string) Option {
	return func(st *State) { st.runID = id }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l logger.Logger) Option {
	return func(st *State) { st.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *State) { st.now = now }
}

// New returns an empty State.
func New(opts ...Option) *State {
	s := &State{log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update publishes m for frame seq. An update from an older frame than the one
// already published is dropped and Update returns false.
func (s *State) Update(ctx context.Context, seq uint64, m TopMatch) bool {
	rec := &Record{TopMatch: m, RunID: s.runID, Seq: seq, UpdatedAt: s.now()}
	for {
		cur := s.slot.Load()
		if cur != nil && cur.Seq > seq {
			return false
		}
		if s.slot.CompareAndSwap(cur, rec) {
			break
		}
	}

	if s.store != nil {
		if err := s.store.SaveTopMatch(ctx, *rec); err != nil {
			// The in-memory slot stays authoritative; the durable copy catches up on the next frame.
			s.log.Warn(ctx, "persisting top match failed", logger.Uint64("seq", seq), logger.Error(err))
		}
	}
	return true
}

// Read returns the latest record; ok is false if Update was never called.
func (s *State) Read() (Record, bool) {
	rec := s.slot.Load()
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// Poll reads l every interval and calls fn whenever a newer record appears.
// It returns when ctx is done, or with the first load error.
func Poll(ctx context.Context, l Loader, interval time.Duration, fn func(Record)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Record
	check := func() error {
		rec, ok, err := l.LoadTopMatch(ctx)
		if err != nil {
			return err
		}
		if ok && (last == nil || rec.Newer(*last)) {
			last = &rec
			fn(rec)
		}
		return nil
	}

	if err := check(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := check(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
