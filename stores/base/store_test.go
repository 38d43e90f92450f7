package base

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStatusFinishFetch(t *testing.T) {
	var st Status
	st.Loading = true

	st.FinishFetch(nil)
	if st.Loading {
		t.Error("Loading still true after FinishFetch")
	}
	if st.LastError != nil {
		t.Errorf("LastError = %v, want nil", st.LastError)
	}
	if st.LastFetch.IsZero() {
		t.Error("LastFetch not stamped on success")
	}

	stamp := st.LastFetch
	sentinel := errors.New("upstream down")
	st.Loading = true
	st.FinishFetch(sentinel)
	if st.LastError != sentinel {
		t.Errorf("LastError = %v, want sentinel", st.LastError)
	}
	if !st.LastFetch.Equal(stamp) {
		t.Error("failed fetch moved the LastFetch stamp")
	}
}

func TestStatusFinishSubmit(t *testing.T) {
	var st Status
	st.Submitting = true

	sentinel := errors.New("rejected")
	st.FinishSubmit(sentinel)
	if st.Submitting {
		t.Error("Submitting still true after FinishSubmit")
	}
	if st.LastError != sentinel {
		t.Errorf("LastError = %v, want sentinel", st.LastError)
	}

	st.Submitting = true
	st.FinishSubmit(nil)
	if st.LastError != nil {
		t.Errorf("LastError = %v, want nil after success", st.LastError)
	}
}

func TestFetchGuardSingleFlight(t *testing.T) {
	var g FetchGuard
	var fetches atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- g.Do(context.Background(), func(context.Context) error {
			fetches.Add(1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// Everyone arriving while the fetch is in flight must join it.
	for i := 0; i < 7; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Do(context.Background(), func(context.Context) error {
				fetches.Add(1)
				return nil
			})
		}()
	}
	close(release)
	wg.Wait()
	close(errs)

	if got := fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	for err := range errs {
		if err != nil {
			t.Errorf("Do returned %v, want nil", err)
		}
	}
	if !g.Loaded() {
		t.Error("Loaded = false after successful fetch")
	}
}

func TestFetchGuardSharesInFlightError(t *testing.T) {
	var g FetchGuard
	sentinel := errors.New("fetch failed")
	started := make(chan struct{})
	release := make(chan struct{})

	first := make(chan error, 1)
	go func() {
		first <- g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return sentinel
		})
	}()
	<-started

	var joinerRan atomic.Int32
	second := make(chan error, 1)
	go func() {
		second <- g.Do(context.Background(), func(context.Context) error {
			joinerRan.Add(1)
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond) // let the joiner park on the in-flight fetch
	close(release)

	if err := <-first; !errors.Is(err, sentinel) {
		t.Errorf("first Do = %v, want sentinel", err)
	}
	if err := <-second; !errors.Is(err, sentinel) {
		t.Errorf("joined Do = %v, want the shared sentinel", err)
	}
	if joinerRan.Load() != 0 {
		t.Error("joiner ran its own fetch")
	}
	if g.Loaded() {
		t.Error("Loaded = true after failed fetch")
	}
}

func TestFetchGuardRetriesAfterFailure(t *testing.T) {
	var g FetchGuard
	var fetches atomic.Int32

	err := g.Do(context.Background(), func(context.Context) error {
		fetches.Add(1)
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("Do swallowed the fetch error")
	}

	if err := g.Do(context.Background(), func(context.Context) error {
		fetches.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("retry Do: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestFetchGuardResetForcesRefetch(t *testing.T) {
	var g FetchGuard
	var fetches atomic.Int32
	fetch := func(context.Context) error {
		fetches.Add(1)
		return nil
	}

	g.Do(context.Background(), fetch)
	g.Do(context.Background(), fetch)
	if got := fetches.Load(); got != 1 {
		t.Fatalf("fetches before Reset = %d, want 1", got)
	}

	g.Reset()
	if g.Loaded() {
		t.Error("Loaded = true after Reset")
	}
	g.Do(context.Background(), fetch)
	if got := fetches.Load(); got != 2 {
		t.Errorf("fetches after Reset = %d, want 2", got)
	}
}

func TestFetchGuardResetDuringFetch(t *testing.T) {
	var g FetchGuard
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// The epoch moves while the fetch is still in flight.
	g.Reset()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Do: %v", err)
	}
	if g.Loaded() {
		t.Error("fetch from the old epoch counted as loaded")
	}
}

func TestFetchGuardCanceledWaiter(t *testing.T) {
	var g FetchGuard
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled waiter Do = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("original Do = %v, want nil", err)
	}
}

func TestSequencer(t *testing.T) {
	var s Sequencer

	first := s.Next()
	if s.Stale(first) {
		t.Error("freshest sequence reported stale")
	}

	second := s.Next()
	if !s.Stale(first) {
		t.Error("superseded sequence not reported stale")
	}
	if s.Stale(second) {
		t.Error("newest sequence reported stale")
	}
}

func TestNotifierOrderAndUnsubscribe(t *testing.T) {
	var n Notifier
	var mu sync.Mutex
	var order []string

	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	offA := n.Watch(record("a"))
	n.Watch(record("b"))
	n.Notify()

	mu.Lock()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
	order = nil
	mu.Unlock()

	offA()
	offA() // double unsubscribe is safe
	n.Notify()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "b" {
		t.Errorf("order after unsubscribe = %v, want [b]", order)
	}
}

func TestNotifierEmptyNotify(t *testing.T) {
	var n Notifier
	n.Notify() // must not panic with no watchers
}
