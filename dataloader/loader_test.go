package dataloader

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	fail    error
	missing map[int]bool
	block   chan struct{}
}

func (r *recorder) fetch(ctx context.Context, keys []int) (map[string]string, error) {
	r.mu.Lock()
	cp := append([]int(nil), keys...)
	r.batches = append(r.batches, cp)
	fail := r.fail
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if r.missing[k] {
			continue
		}
		out[strconv.Itoa(k)] = "v" + strconv.Itoa(k)
	}
	return out, nil
}

func (r *recorder) calls() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}

func newIntLoader(r *recorder, opts ...Option) *Loader[int, string] {
	return New[int, string](r.fetch, strconv.Itoa, opts...)
}

func TestLoadManyBatchesDistinctKeysInOrder(t *testing.T) {
	r := &recorder{missing: map[int]bool{2: true}}
	l := newIntLoader(r)

	got, err := l.LoadMany(context.Background(), []int{3, 1, 3, 2})
	if err != nil {
		t.Fatalf("LoadMany: %v", err)
	}

	calls := r.calls()
	if len(calls) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(calls))
	}
	keys := append([]int(nil), calls[0]...)
	sort.Ints(keys)
	if len(keys) != 3 || keys[0] != 1 || keys[1] != 2 || keys[2] != 3 {
		t.Fatalf("fetched keys = %v, want {1,2,3}", calls[0])
	}

	want := []Result[string]{{"v3", true}, {"v1", true}, {"v3", true}, {"", false}}
	if len(got) != len(want) {
		t.Fatalf("results = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoadIsMemoized(t *testing.T) {
	r := &recorder{}
	l := newIntLoader(r)
	ctx := context.Background()

	if _, _, err := l.Load(7).Get(ctx); err != nil {
		t.Fatal(err)
	}
	v, ok, err := l.Load(7).Get(ctx)
	if err != nil || !ok || v != "v7" {
		t.Fatalf("second load = %q, %v, %v", v, ok, err)
	}
	if n := len(r.calls()); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestLoadsAfterDispatchOpenNewBatch(t *testing.T) {
	r := &recorder{}
	l := newIntLoader(r)
	ctx := context.Background()

	a := l.Load(1)
	if _, _, err := a.Get(ctx); err != nil {
		t.Fatal(err)
	}
	b := l.Load(2)
	c := l.Load(3)
	if _, _, err := b.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx); !ok {
		t.Fatal("key 3 not found")
	}
	calls := r.calls()
	if len(calls) != 2 || len(calls[1]) != 2 {
		t.Fatalf("batches = %v, want [[1] [2 3]]", calls)
	}
}

func TestFetchErrorFailsEveryWaiterAndEvicts(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{fail: boom}
	l := newIntLoader(r)
	ctx := context.Background()

	_, err := l.LoadMany(ctx, []int{1, 2})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, _, err := l.Load(2).Get(ctx); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	r.mu.Lock()
	r.fail = nil
	r.mu.Unlock()

	v, ok, err := l.Load(1).Get(ctx)
	if err != nil || !ok || v != "v1" {
		t.Fatalf("retry after failure = %q, %v, %v", v, ok, err)
	}
}

func TestCancelledContextAbortsFetch(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	l := newIntLoader(r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := l.Load(1).Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	close(r.block)
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	l := newIntLoader(r)
	ctx := context.Background()

	thunks := make([]*Thunk[int, string], 20)
	for i := range thunks {
		thunks[i] = l.Load(i % 5)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(thunks))
	for i, th := range thunks {
		wg.Add(1)
		go func(i int, th *Thunk[int, string]) {
			defer wg.Done()
			v, ok, err := th.Get(ctx)
			if err != nil {
				errs <- err
				return
			}
			if !ok || v != "v"+strconv.Itoa(i%5) {
				errs <- errors.New("wrong value " + v)
			}
		}(i, th)
	}
	close(r.block)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if n := len(r.calls()); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestMaxBatchSplitsFetches(t *testing.T) {
	r := &recorder{}
	l := newIntLoader(r, WithMaxBatch(2))

	got, err := l.LoadMany(context.Background(), []int{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("results = %d", len(got))
	}
	calls := r.calls()
	if len(calls) != 3 {
		t.Fatalf("fetch calls = %d, want 3", len(calls))
	}
	for _, c := range calls {
		if len(c) > 2 {
			t.Fatalf("batch %v exceeds max", c)
		}
	}
}

func TestPrimeSkipsFetch(t *testing.T) {
	r := &recorder{}
	l := newIntLoader(r)
	l.Prime(9, "primed")

	v, ok, err := l.Load(9).Get(context.Background())
	if err != nil || !ok || v != "primed" {
		t.Fatalf("primed load = %q, %v, %v", v, ok, err)
	}
	if n := len(r.calls()); n != 0 {
		t.Fatalf("fetch calls = %d, want 0", n)
	}
}

type pair struct{ a, b int }

func TestStructuralKeysCoalesce(t *testing.T) {
	var fetched [][]pair
	l := New[pair, int](func(_ context.Context, keys []pair) (map[string]int, error) {
		fetched = append(fetched, keys)
		out := map[string]int{}
		for _, k := range keys {
			out[strconv.Itoa(k.a)+"&"+strconv.Itoa(k.b)] = k.a + k.b
		}
		return out, nil
	}, func(k pair) string { return strconv.Itoa(k.a) + "&" + strconv.Itoa(k.b) })

	got, err := l.LoadMany(context.Background(), []pair{{1, 2}, {1, 2}, {2, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(fetched) != 1 || len(fetched[0]) != 2 {
		t.Fatalf("fetched = %v, want one batch of two", fetched)
	}
	if got[0].Value != 3 || got[1].Value != 3 || got[2].Value != 3 {
		t.Fatalf("results = %+v", got)
	}
}

func TestFetchPanicFailsBatchAndEvicts(t *testing.T) {
	var calls int
	var mu sync.Mutex
	l := New[int, string](func(ctx context.Context, keys []int) (map[string]string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("driver blew up")
		}
		return map[string]string{"1": "v1", "2": "v2"}, nil
	}, strconv.Itoa)

	a, b := l.Load(1), l.Load(2)
	if _, _, err := a.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "fetch panicked: driver blew up") {
		t.Fatalf("err = %v, want panic turned into error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := b.Get(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second waiter err = %v, want the batch error", err)
	}

	v, ok, err := l.Load(1).Get(context.Background())
	if err != nil || !ok || v != "v1" {
		t.Fatalf("retry after panic = %q %v %v", v, ok, err)
	}
}

func TestResolvedGetStartsNoDispatcher(t *testing.T) {
	r := &recorder{}
	l := newIntLoader(r)
	th := l.Load(7)
	if _, _, err := th.Get(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	allocs := testing.AllocsPerRun(100, func() {
		_, _, _ = th.Get(ctx)
	})
	if allocs != 0 {
		t.Fatalf("resolved Get allocated %.0f times per call", allocs)
	}
	if len(r.calls()) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(r.calls()))
	}
}
