package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Completion is the future for one dispatched event. It reaches exactly one
// terminal state - a result value or an error - and any number of awaiters
// may observe it. The broadcast is the closed done channel; the value is
// stored once before the close.
type Completion struct {
	id    string
	tag   string
	at    time.Time
	limit time.Duration

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

// ID returns the dispatched event's unique id.
func (c *Completion) ID() string { return c.id }

// EventTag returns the dispatched event's tag.
func (c *Completion) EventTag() string { return c.tag }

// Done is closed when the handler chain has finished.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Value returns the terminal result and error. Valid only after Done is
// closed; before that it reports not-finished.
func (c *Completion) Value() (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, fmt.Errorf("event %s not finished", c.tag)
	}
}

func (c *Completion) complete(result any, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// deadline computes the effective await deadline: the caller timeout
// (counted from now) capped by the event's own declared timeout (counted
// from dispatch). A zero duration means unbounded on that side.
func (c *Completion) deadline(now time.Time, callerTimeout time.Duration) (time.Time, bool) {
	var d time.Time
	if callerTimeout > 0 {
		d = now.Add(callerTimeout)
	}
	if c.limit > 0 {
		internal := c.at.Add(c.limit)
		if d.IsZero() || internal.Before(d) {
			d = internal
		}
	}
	return d, !d.IsZero()
}

// Await suspends until the completion reaches its terminal state or the
// timeout elapses, whichever is first. The event's own declared timeout is
// applied as an upper bound even when the caller passes zero or a larger
// value. On expiry the handler chain keeps running unobserved; only the
// await returns.
func (b *Bus) Await(ctx context.Context, c *Completion, timeout time.Duration) (any, error) {
	var timer <-chan time.Time
	if deadline, ok := c.deadline(time.Now(), timeout); ok {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-c.done:
		return c.result, c.err
	case <-timer:
		return nil, fmt.Errorf("%w: awaiting %s", ErrTimeout, c.tag)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DispatchAndAwait is the common dispatch-then-await round trip.
func (b *Bus) DispatchAndAwait(ctx context.Context, ev Event, timeout time.Duration) (any, error) {
	return b.Await(ctx, b.Dispatch(ev), timeout)
}

// HistoryEntry records one dispatched event for diagnostics.
type HistoryEntry struct {
	ID   string    `json:"id"`
	Tag  string    `json:"tag"`
	Time time.Time `json:"time"`
}

// recordLocked appends to the bounded history. Caller holds b.mu.
func (b *Bus) recordLocked(entry HistoryEntry) {
	b.history = append(b.history, entry)
	if len(b.history) > b.limit {
		overflow := len(b.history) - b.limit
		b.history = append(b.history[:0:0], b.history[overflow:]...)
	}
}

// History returns up to n retained entries, oldest first. n <= 0 returns
// everything retained.
func (b *Bus) History(n int) []HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.history
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// RecentTags returns the tags of the most recent n events, newest first.
// This is the diagnostics view used in error reports.
func (b *Bus) RecentTags(n int) []string {
	entries := b.History(n)
	tags := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		tags = append(tags, entries[i].Tag)
	}
	return tags
}
