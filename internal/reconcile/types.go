package reconcile

import (
	"errors"
	"fmt"

	"github.com/rickgao/feedsync/internal/model"
)

// Errors
var (
	ErrGap             = errors.New("sequence gap")
	ErrNotSynced       = errors.New("reconciler not synced")
	ErrMalformedUpdate = errors.New("malformed update")
)

// GapError describes an unrecoverable sequence gap.
type GapError struct {
	Confirmed   uint64 // Cursor version when the delta arrived
	FromVersion uint64
	ToVersion   uint64
	Gap         uint64 // Missing versions between cursor and FromVersion
	SlackUsed   bool   // True if a delta was already applied since the snapshot
}

func (e *GapError) Error() string {
	return fmt.Sprintf("sequence gap of %d after version %d (delta %d-%d, slack used: %t)",
		e.Gap, e.Confirmed, e.FromVersion, e.ToVersion, e.SlackUsed)
}

func (e *GapError) Unwrap() error { return ErrGap }

// State is the protocol state of a Reconciler.
type State int

const (
	StateBootstrapping State = iota
	StateSynced
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateSynced:
		return "synced"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Cursor tracks the version the book is consistent as of.
type Cursor struct {
	ConfirmedVersion uint64
	LastContiguousTo *uint64 // nil right after a snapshot
}

// Outcome classifies what ApplyDelta did with a delta.
type Outcome int

const (
	OutcomeApplied       Outcome = iota // Contiguous or overlapping, applied
	OutcomeFastForwarded                // Bounded gap tolerated, applied
	OutcomeStale                        // to <= confirmed, discarded
	OutcomeBehind                       // Entirely behind the cursor, discarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeFastForwarded:
		return "fast_forwarded"
	case OutcomeStale:
		return "stale"
	case OutcomeBehind:
		return "behind"
	default:
		return "unknown"
	}
}

// Delta is a versioned set of absolute level replacements.
type Delta struct {
	FromVersion uint64
	ToVersion   uint64
	Bids        []model.PriceLevel
	Asks        []model.PriceLevel
}

// Result reports the effect of ApplyDelta.
type Result struct {
	Outcome Outcome
	Skipped uint64 // Versions skipped by a fast-forward
	Crossed bool   // Book is crossed after applying (non-fatal)
}

// Mutated reports whether the delta changed the book.
func (r Result) Mutated() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeFastForwarded
}

// Config holds reconciler settings.
type Config struct {
	// FastForwardTolerance is the largest gap accepted right after a snapshot.
	FastForwardTolerance uint64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{FastForwardTolerance: 5}
}

// Stats counts reconciler outcomes.
type Stats struct {
	Snapshots     int64
	Applied       int64
	FastForwards  int64
	Stale         int64
	Behind        int64
	Faults        int64
	Malformed     int64
	CrossedEvents int64
}
