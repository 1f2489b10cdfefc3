// Package bus implements the session event bus: typed events dispatched to
// registered handlers with per-event completions, an expect primitive for
// observing push-style notifications, and a bounded event history.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	. "github.com/repomirrorhq/better-use-sub001/internal/logging"
)

// Event is a typed bus payload. Tag identifies the event kind and routes it
// to handlers; payloads are treated as immutable once dispatched.
type Event interface {
	Tag() string
}

// TimeLimited is implemented by events that declare their own timeout. The
// declared value is an internal upper bound on awaiting the completion,
// applied regardless of any caller-supplied timeout.
type TimeLimited interface {
	Event
	EventTimeout() time.Duration
}

// Handler processes one event and may return a result value. The context
// carries the event's declared deadline; handlers are responsible for
// bounding their own protocol calls with it.
type Handler func(ctx context.Context, ev Event) (any, error)

// busError is a sentinel error in the bus package
type busError string

func (e busError) Error() string { return string(e) }

const (
	// ErrTimeout is returned when an await or expect deadline elapses.
	ErrTimeout = busError("bus: timed out")
	// ErrClosed is returned for operations on a closed bus.
	ErrClosed = busError("bus: closed")
)

// DuplicateHandlerError reports a (owner, tag) pair registered twice without
// an intervening unsubscribe. This is a configuration error and fatal to the
// attach that caused it.
type DuplicateHandlerError struct {
	Owner string
	Tag   string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("bus: duplicate handler: %s already handles %s", e.Owner, e.Tag)
}

// HandlerError wraps a failure from one handler in a chain, so aggregate
// completion errors keep per-handler attribution.
type HandlerError struct {
	Owner string
	Tag   string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s failed handling %s: %v", e.Owner, e.Tag, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type registration struct {
	owner string
	fn    Handler
}

// Config tunes bus internals.
type Config struct {
	// HistoryLimit bounds the retained event history.
	HistoryLimit int `json:"historyLimit"`
	// QueueSize is the dispatch queue capacity.
	QueueSize int `json:"queueSize"`
}

// DefaultConfig returns the standard bus tuning.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 100,
		QueueSize:    256,
	}
}

// Bus routes dispatched events to handlers in registration order. One Bus
// serves one browser session.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	owned    map[string]map[string]struct{} // owner -> tags, duplicate detection
	waiters  map[string][]chan Event
	history  []HistoryEntry
	limit    int

	queue       chan *envelope
	closed      chan struct{}
	closeOnce   sync.Once
	dispatchers sync.WaitGroup // dispatch calls past the closed check
	inflight    sync.WaitGroup // handler chains being delivered
}

type envelope struct {
	id         string
	tag        string
	at         time.Time
	event      Event
	completion *Completion
}

// New creates a bus with default tuning and starts its dispatcher.
func New() *Bus {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a bus with explicit tuning and starts its dispatcher.
func NewWithConfig(cfg Config) *Bus {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	b := &Bus{
		handlers: make(map[string][]registration),
		owned:    make(map[string]map[string]struct{}),
		waiters:  make(map[string][]chan Event),
		limit:    cfg.HistoryLimit,
		queue:    make(chan *envelope, cfg.QueueSize),
		closed:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe registers a handler for a tag under an owner name. Handlers for
// the same tag run in subscription order. A second subscription for the same
// (owner, tag) pair returns DuplicateHandlerError.
func (b *Bus) Subscribe(owner, tag string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	tags, ok := b.owned[owner]
	if !ok {
		tags = make(map[string]struct{})
		b.owned[owner] = tags
	}
	if _, dup := tags[tag]; dup {
		return &DuplicateHandlerError{Owner: owner, Tag: tag}
	}
	tags[tag] = struct{}{}
	b.handlers[tag] = append(b.handlers[tag], registration{owner: owner, fn: fn})
	L_trace("bus: handler registered", "owner", owner, "tag", tag)
	return nil
}

// Unsubscribe removes the handler for (owner, tag). Missing registrations
// are a no-op.
func (b *Bus) Unsubscribe(owner, tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(owner, tag)
}

// UnsubscribeOwner removes every handler registered under the owner name.
func (b *Bus) UnsubscribeOwner(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tag := range b.owned[owner] {
		b.removeLocked(owner, tag)
	}
}

func (b *Bus) removeLocked(owner, tag string) {
	regs := b.handlers[tag]
	for i, reg := range regs {
		if reg.owner == owner {
			b.handlers[tag] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[tag]) == 0 {
		delete(b.handlers, tag)
	}
	if tags, ok := b.owned[owner]; ok {
		delete(tags, tag)
		if len(tags) == 0 {
			delete(b.owned, owner)
		}
	}
}

// Dispatch enqueues the event for delivery to every handler registered for
// its tag and returns a completion handle immediately. Handler execution
// never blocks the caller. Dispatching on a closed bus yields a completion
// already failed with ErrClosed.
func (b *Bus) Dispatch(ev Event) *Completion {
	env := &envelope{
		id:    uuid.NewString(),
		tag:   ev.Tag(),
		at:    time.Now(),
		event: ev,
	}
	c := &Completion{id: env.id, tag: env.tag, at: env.at, done: make(chan struct{})}
	if tl, ok := ev.(TimeLimited); ok {
		c.limit = tl.EventTimeout()
	}
	env.completion = c

	b.mu.Lock()
	select {
	case <-b.closed:
		b.mu.Unlock()
		c.complete(nil, ErrClosed)
		return c
	default:
	}
	// Registering under the lock orders this Add before Close, so the final
	// drain cannot run while an enqueue is still possible.
	b.dispatchers.Add(1)
	defer b.dispatchers.Done()
	b.recordLocked(HistoryEntry{ID: env.id, Tag: env.tag, Time: env.at})
	waiters := b.waiters[env.tag]
	delete(b.waiters, env.tag)
	b.mu.Unlock()

	// Expect waiters observe the event at dispatch time, before delivery.
	for _, ch := range waiters {
		ch <- ev
	}

	select {
	case <-b.closed:
		c.complete(nil, ErrClosed)
	case b.queue <- env:
	}
	return c
}

// Expect resolves with the next event of the given tag dispatched strictly
// after this call, independent of who dispatched it. Events already in
// history never satisfy an Expect.
func (b *Bus) Expect(ctx context.Context, tag string, timeout time.Duration) (Event, error) {
	ch := make(chan Event, 1)

	b.mu.Lock()
	select {
	case <-b.closed:
		b.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	b.waiters[tag] = append(b.waiters[tag], ch)
	b.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer:
		b.dropWaiter(tag, ch)
		return nil, fmt.Errorf("%w: no %s within %s", ErrTimeout, tag, timeout)
	case <-ctx.Done():
		b.dropWaiter(tag, ch)
		return nil, ctx.Err()
	case <-b.closed:
		b.dropWaiter(tag, ch)
		return nil, ErrClosed
	}
}

func (b *Bus) dropWaiter(tag string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := b.waiters[tag]
	for i, w := range waiters {
		if w == ch {
			b.waiters[tag] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(b.waiters[tag]) == 0 {
		delete(b.waiters, tag)
	}
}

// run starts handler chains in dispatch order.
func (b *Bus) run() {
	for {
		select {
		case env := <-b.queue:
			b.inflight.Add(1)
			go b.deliver(env)
		case <-b.closed:
			// Late dispatchers either observe closed and fail their own
			// completion or land in the queue before this drain.
			b.dispatchers.Wait()
			b.failQueued()
			return
		}
	}
}

// deliver runs the handler chain for one event. Handlers execute
// sequentially in registration order; a failing handler does not stop later
// ones, and every failure reaches the completion as part of the aggregate.
func (b *Bus) deliver(env *envelope) {
	defer b.inflight.Done()

	b.mu.RLock()
	regs := make([]registration, len(b.handlers[env.tag]))
	copy(regs, b.handlers[env.tag])
	b.mu.RUnlock()

	ctx := context.Background()
	if env.completion.limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, env.at.Add(env.completion.limit))
		defer cancel()
	}

	var (
		results = make(map[string]any)
		errs    []error
	)
	for _, reg := range regs {
		res, err := b.invoke(ctx, reg, env)
		if err != nil {
			errs = append(errs, &HandlerError{Owner: reg.owner, Tag: env.tag, Err: err})
			continue
		}
		if res != nil {
			results[reg.owner] = res
		}
	}

	env.completion.complete(flattenResults(results), errors.Join(errs...))
}

// invoke runs a single handler, converting panics into errors so one
// misbehaving handler cannot take down the dispatcher.
func (b *Bus) invoke(ctx context.Context, reg registration, env *envelope) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			L_error("bus: handler panic", "owner", reg.owner, "tag", env.tag, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.fn(ctx, env.event)
}

// flattenResults unwraps the common single-handler case so callers get the
// value directly instead of a one-entry map.
func flattenResults(results map[string]any) any {
	switch len(results) {
	case 0:
		return nil
	case 1:
		for _, v := range results {
			return v
		}
	}
	return results
}

func (b *Bus) failQueued() {
	for {
		select {
		case env := <-b.queue:
			env.completion.complete(nil, ErrClosed)
		default:
			return
		}
	}
}

// Close stops the dispatcher. Queued but undelivered events fail with
// ErrClosed; chains already running finish on their own.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.closed)
		b.mu.Unlock()
	})
}

// Drain waits for in-flight handler chains to finish, up to the context
// deadline. Used during session shutdown.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandlerCount reports how many handlers are registered for a tag.
func (b *Bus) HandlerCount(tag string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[tag])
}

// Tags lists every tag that currently has at least one handler.
func (b *Bus) Tags() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tags := make([]string, 0, len(b.handlers))
	for tag := range b.handlers {
		tags = append(tags, tag)
	}
	return tags
}
