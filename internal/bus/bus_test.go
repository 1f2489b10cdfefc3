package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	tag string
}

func (e testEvent) Tag() string { return e.tag }

type limitedEvent struct {
	tag   string
	limit time.Duration
}

func (e limitedEvent) Tag() string                 { return e.tag }
func (e limitedEvent) EventTimeout() time.Duration { return e.limit }

func TestHandlersRunInRegistrationOrderDespiteFailure(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var order []int

	record := func(n int) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
	}

	if err := b.Subscribe("first", "Thing", func(ctx context.Context, ev Event) (any, error) {
		record(1)
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("second", "Thing", func(ctx context.Context, ev Event) (any, error) {
		record(2)
		return nil, errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("third", "Thing", func(ctx context.Context, ev Event) (any, error) {
		record(3)
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	_, err := b.DispatchAndAwait(context.Background(), testEvent{tag: "Thing"}, time.Second)
	if err == nil {
		t.Fatal("expected aggregate error from failing handler")
	}
	if !strings.Contains(err.Error(), "second") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("aggregate error lacks handler attribution: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 handler runs, got %d (%v)", len(order), order)
	}
	for i, n := range order {
		if n != i+1 {
			t.Errorf("handler %d ran out of order: %v", n, order)
		}
	}
}

func TestHandlerErrorKeepsAttribution(t *testing.T) {
	b := New()
	defer b.Close()

	sentinel := errors.New("underlying")
	if err := b.Subscribe("owner", "Thing", func(ctx context.Context, ev Event) (any, error) {
		return nil, sentinel
	}); err != nil {
		t.Fatal(err)
	}

	_, err := b.DispatchAndAwait(context.Background(), testEvent{tag: "Thing"}, time.Second)
	if !errors.Is(err, sentinel) {
		t.Errorf("aggregate should unwrap to the handler's error, got %v", err)
	}
	var he *HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("expected HandlerError in chain, got %v", err)
	}
	if he.Owner != "owner" || he.Tag != "Thing" {
		t.Errorf("wrong attribution: %+v", he)
	}
}

func TestDuplicateSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	h := func(ctx context.Context, ev Event) (any, error) { return nil, nil }
	if err := b.Subscribe("watchdog", "Thing", h); err != nil {
		t.Fatal(err)
	}

	err := b.Subscribe("watchdog", "Thing", h)
	var dup *DuplicateHandlerError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateHandlerError, got %v", err)
	}
	if dup.Owner != "watchdog" || dup.Tag != "Thing" {
		t.Errorf("wrong duplicate context: %+v", dup)
	}

	// Same owner, different tag is fine; different owner, same tag is fine.
	if err := b.Subscribe("watchdog", "Other", h); err != nil {
		t.Errorf("different tag should register: %v", err)
	}
	if err := b.Subscribe("other", "Thing", h); err != nil {
		t.Errorf("different owner should register: %v", err)
	}
}

func TestExpectSeesOnlyEventsAfterCall(t *testing.T) {
	b := New()
	defer b.Close()

	// Land one event in history first.
	c := b.Dispatch(testEvent{tag: "TabCreated"})
	if _, err := b.Await(context.Background(), c, time.Second); err != nil {
		t.Fatal(err)
	}

	// The historical event must not satisfy an expect.
	_, err := b.Expect(context.Background(), "TabCreated", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect should ignore history, got %v", err)
	}

	// A live event dispatched after the call does.
	type result struct {
		ev  Event
		err error
	}
	got := make(chan result, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		ev, err := b.Expect(context.Background(), "TabCreated", 2*time.Second)
		got <- result{ev, err}
	}()
	<-ready
	time.Sleep(10 * time.Millisecond) // let the expect register
	b.Dispatch(testEvent{tag: "TabCreated"})

	r := <-got
	if r.err != nil {
		t.Fatalf("expect failed: %v", r.err)
	}
	if r.ev.Tag() != "TabCreated" {
		t.Errorf("wrong event: %s", r.ev.Tag())
	}
}

func TestAwaitCallerTimeout(t *testing.T) {
	b := New()
	defer b.Close()

	release := make(chan struct{})
	if err := b.Subscribe("slow", "Thing", func(ctx context.Context, ev Event) (any, error) {
		<-release
		return "late", nil
	}); err != nil {
		t.Fatal(err)
	}

	c := b.Dispatch(testEvent{tag: "Thing"})
	_, err := b.Await(context.Background(), c, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// The chain was not aborted: releasing the handler completes it and the
	// same completion is still observable.
	close(release)
	res, err := b.Await(context.Background(), c, time.Second)
	if err != nil {
		t.Fatalf("second await: %v", err)
	}
	if res != "late" {
		t.Errorf("result = %v, want late", res)
	}
}

func TestEventDeclaredTimeoutBoundsAwait(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	defer close(block)
	if err := b.Subscribe("stuck", "Thing", func(ctx context.Context, ev Event) (any, error) {
		<-block
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	c := b.Dispatch(limitedEvent{tag: "Thing", limit: 60 * time.Millisecond})
	// Caller allows five seconds; the event's own declared timeout wins.
	_, err := b.Await(context.Background(), c, 5*time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("await outlived the declared event timeout: %s", elapsed)
	}
}

func TestCompletionSharedByMultipleAwaiters(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Subscribe("h", "Thing", func(ctx context.Context, ev Event) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	}); err != nil {
		t.Fatal(err)
	}

	c := b.Dispatch(testEvent{tag: "Thing"})

	var wg sync.WaitGroup
	results := make([]any, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.Await(context.Background(), c, time.Second)
			if err != nil {
				t.Errorf("awaiter %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res != 42 {
			t.Errorf("awaiter %d saw %v, want 42", i, res)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	b := NewWithConfig(Config{HistoryLimit: 5, QueueSize: 16})
	defer b.Close()

	tags := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, tag := range tags {
		c := b.Dispatch(testEvent{tag: tag})
		if _, err := b.Await(context.Background(), c, time.Second); err != nil {
			t.Fatal(err)
		}
	}

	entries := b.History(0)
	if len(entries) != 5 {
		t.Fatalf("history len = %d, want 5", len(entries))
	}
	for i, want := range []string{"d", "e", "f", "g", "h"} {
		if entries[i].Tag != want {
			t.Errorf("history[%d] = %s, want %s", i, entries[i].Tag, want)
		}
	}

	recent := b.RecentTags(2)
	if len(recent) != 2 || recent[0] != "h" || recent[1] != "g" {
		t.Errorf("RecentTags = %v, want [h g]", recent)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	ran := make(chan struct{}, 1)
	if err := b.Subscribe("panicky", "Thing", func(ctx context.Context, ev Event) (any, error) {
		panic("kaboom")
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("survivor", "Thing", func(ctx context.Context, ev Event) (any, error) {
		ran <- struct{}{}
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	_, err := b.DispatchAndAwait(context.Background(), testEvent{tag: "Thing"}, time.Second)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("panic should surface in the aggregate error, got %v", err)
	}
	select {
	case <-ran:
	default:
		t.Error("handler after the panicking one did not run")
	}
}

func TestDispatchWithoutHandlersCompletes(t *testing.T) {
	b := New()
	defer b.Close()

	res, err := b.DispatchAndAwait(context.Background(), testEvent{tag: "Unheard"}, time.Second)
	if err != nil {
		t.Fatalf("no-handler dispatch should complete cleanly: %v", err)
	}
	if res != nil {
		t.Errorf("result = %v, want nil", res)
	}
}

func TestUnsubscribeOwner(t *testing.T) {
	b := New()
	defer b.Close()

	h := func(ctx context.Context, ev Event) (any, error) { return "x", nil }
	for _, tag := range []string{"a", "b", "c"} {
		if err := b.Subscribe("watchdog", tag, h); err != nil {
			t.Fatal(err)
		}
	}

	b.UnsubscribeOwner("watchdog")
	for _, tag := range []string{"a", "b", "c"} {
		if n := b.HandlerCount(tag); n != 0 {
			t.Errorf("tag %s still has %d handlers", tag, n)
		}
	}

	// Re-registration after unsubscribe is allowed.
	if err := b.Subscribe("watchdog", "a", h); err != nil {
		t.Errorf("re-subscribe after unsubscribe: %v", err)
	}
}

func TestDispatchAfterClose(t *testing.T) {
	b := New()
	b.Close()

	c := b.Dispatch(testEvent{tag: "Thing"})
	_, err := b.Await(context.Background(), c, time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if err := b.Subscribe("late", "Thing", func(ctx context.Context, ev Event) (any, error) {
		return nil, nil
	}); !errors.Is(err, ErrClosed) {
		t.Errorf("subscribe on closed bus should fail, got %v", err)
	}
}

func TestMultipleHandlerResultsAggregate(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Subscribe("one", "Thing", func(ctx context.Context, ev Event) (any, error) {
		return "first", nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("two", "Thing", func(ctx context.Context, ev Event) (any, error) {
		return "second", nil
	}); err != nil {
		t.Fatal(err)
	}

	res, err := b.DispatchAndAwait(context.Background(), testEvent{tag: "Thing"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("expected map result for multiple handlers, got %T", res)
	}
	if m["one"] != "first" || m["two"] != "second" {
		t.Errorf("results = %v", m)
	}
}
