package reconcile

import (
	"fmt"
	"log/slog"

	"github.com/rickgao/feedsync/internal/book"
	"github.com/rickgao/feedsync/internal/model"
)

// Reconciler owns one Book and its version cursor.
// It is not safe for concurrent use.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger

	book   *book.Book
	state  State
	cursor Cursor
	stats  Stats
}

// New creates a Reconciler in the Bootstrapping state with an empty book.
func New(cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:    cfg,
		logger: logger,
		book:   book.New(),
		state:  StateBootstrapping,
	}
}

// State returns the current protocol state.
func (r *Reconciler) State() State { return r.state }

// Cursor returns a copy of the version cursor.
func (r *Reconciler) Cursor() Cursor {
	c := r.cursor
	if c.LastContiguousTo != nil {
		v := *c.LastContiguousTo
		c.LastContiguousTo = &v
	}
	return c
}

// Book returns the owned book. Callers must not mutate it.
func (r *Reconciler) Book() *book.Book { return r.book }

// Stats returns outcome counters.
func (r *Reconciler) Stats() Stats { return r.stats }

// ApplySnapshot replaces both sides of the book and resets the cursor.
// It is valid from any state. Malformed levels fail the snapshot without
// touching the book or the state.
func (r *Reconciler) ApplySnapshot(version uint64, bids, asks []model.PriceLevel) error {
	if err := validateLevels(bids, asks); err != nil {
		r.stats.Malformed++
		return err
	}

	r.book.ReplaceSide(model.Bid, bids)
	r.book.ReplaceSide(model.Ask, asks)
	r.cursor = Cursor{ConfirmedVersion: version}
	r.state = StateSynced
	r.stats.Snapshots++

	if r.book.IsCrossed() {
		r.stats.CrossedEvents++
		r.logger.Warn("snapshot produced a crossed book", "version", version)
	}
	return nil
}

// ApplyDelta applies d according to the version protocol.
//
// A *GapError (matching ErrGap) moves the reconciler to Faulted; only a new
// snapshot brings it back. ErrMalformedUpdate rejects d in full and leaves the
// state unchanged.
func (r *Reconciler) ApplyDelta(d Delta) (Result, error) {
	if r.state != StateSynced {
		return Result{}, fmt.Errorf("%w: state %s", ErrNotSynced, r.state)
	}

	confirmed := r.cursor.ConfirmedVersion
	if d.ToVersion <= confirmed {
		r.stats.Stale++
		return Result{Outcome: OutcomeStale}, nil
	}
	if d.FromVersion > d.ToVersion {
		r.stats.Malformed++
		return Result{}, fmt.Errorf("%w: from version %d > to version %d", ErrMalformedUpdate, d.FromVersion, d.ToVersion)
	}

	needed := confirmed + 1
	result := Result{Outcome: OutcomeApplied}

	switch {
	case d.FromVersion <= needed && needed <= d.ToVersion:
		// contiguous or overlapping

	case d.FromVersion > needed:
		gap := d.FromVersion - needed
		slackUsed := r.cursor.LastContiguousTo != nil
		if gap > r.cfg.FastForwardTolerance || slackUsed {
			r.state = StateFaulted
			r.stats.Faults++
			return Result{}, &GapError{
				Confirmed:   confirmed,
				FromVersion: d.FromVersion,
				ToVersion:   d.ToVersion,
				Gap:         gap,
				SlackUsed:   slackUsed,
			}
		}
		result = Result{Outcome: OutcomeFastForwarded, Skipped: gap}

	default:
		r.stats.Behind++
		return Result{Outcome: OutcomeBehind}, nil
	}

	if err := validateLevels(d.Bids, d.Asks); err != nil {
		r.stats.Malformed++
		return Result{}, err
	}

	if result.Outcome == OutcomeFastForwarded {
		r.cursor.ConfirmedVersion = d.FromVersion - 1
		r.stats.FastForwards++
		r.logger.Info("fast-forwarding over sequence gap",
			"confirmed", confirmed,
			"from", d.FromVersion,
			"skipped", result.Skipped,
		)
	}

	for _, l := range d.Bids {
		r.book.ApplyLevel(model.Bid, l.Price, l.Quantity)
	}
	for _, l := range d.Asks {
		r.book.ApplyLevel(model.Ask, l.Price, l.Quantity)
	}

	to := d.ToVersion
	r.cursor.ConfirmedVersion = to
	r.cursor.LastContiguousTo = &to
	r.stats.Applied++

	if r.book.IsCrossed() {
		result.Crossed = true
		r.stats.CrossedEvents++
		bid, _ := r.book.Best(model.Bid)
		ask, _ := r.book.Best(model.Ask)
		r.logger.Warn("crossed book after delta",
			"to_version", to,
			"best_bid", bid.Price,
			"best_ask", ask.Price,
		)
	}

	return result, nil
}

func validateLevels(bids, asks []model.PriceLevel) error {
	if err := book.Validate(bids, asks); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return nil
}
