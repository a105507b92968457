package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tracker owns the status of one live call and writes every change through
// to a Store.
type Tracker struct {
	store    Store
	logger   zerolog.Logger
	onChange func(Status)

	mu  sync.Mutex
	rec Record
}

// NewTracker records a new call in Pending. onChange may be nil.
func NewTracker(ctx context.Context, store Store, callID, from, to string, logger zerolog.Logger, onChange func(Status)) (*Tracker, error) {
	t := &Tracker{
		store:    store,
		logger:   logger,
		onChange: onChange,
		rec:      Record{CallID: callID, From: from, To: to, Status: Pending, UpdatedAt: time.Now()},
	}
	if err := store.Save(ctx, t.rec); err != nil {
		return nil, err
	}
	return t, nil
}

// CallID returns the tracked call's id.
func (t *Tracker) CallID() string {
	return t.rec.CallID
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Status
}

// Transition moves the call to next and persists it. The in-memory status is
// only updated once the store accepted the record.
func (t *Tracker) Transition(ctx context.Context, next Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.rec.Status
	if !from.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	rec := t.rec
	rec.Status = next
	rec.UpdatedAt = time.Now()
	if err := t.store.Save(ctx, rec); err != nil {
		return err
	}
	t.rec = rec

	t.logger.Info().Str("from", from.String()).Str("to", next.String()).Msg("Call status changed")
	if t.onChange != nil {
		t.onChange(next)
	}
	return nil
}

// End moves the call to its terminal ended state: after a transfer began, or
// before one. Already-terminal calls are left alone.
func (t *Tracker) End(ctx context.Context) error {
	switch t.Status() {
	case Autocalling:
		return t.Transition(ctx, EndedBeforeTransfer)
	case Transferring:
		return t.Transition(ctx, EndedAfterTransfer)
	default:
		return nil
	}
}
