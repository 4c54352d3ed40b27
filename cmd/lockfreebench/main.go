// Command lockfreebench drives each of the module's collections under
// concurrent load and reports throughput and latency percentiles. It is
// the "surrounding code" spec.md's error-handling section refers to when
// it says logging belongs at the call site, not in the core packages —
// none of hazard, dlist, queue, or spscdeque import a logger; this binary
// does.
package main

import (
	"flag"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog"

	"github.com/gmtwostay/lockfree/dlist"
	"github.com/gmtwostay/lockfree/queue"
	"github.com/gmtwostay/lockfree/spscdeque"
)

// latencyRecorder keeps a sorted multiset of observed operation latencies
// using a google/btree generic tree, so a percentile report doesn't need
// to sort the full sample each time it's requested. Ties are disambiguated
// with a monotonic sequence number folded into the key.
type latencyRecorder struct {
	mu   sync.Mutex
	tree *btree.BTreeG[int64]
	seq  int64
}

func newLatencyRecorder() *latencyRecorder {
	return &latencyRecorder{
		tree: btree.NewG[int64](32, func(a, b int64) bool { return a < b }),
	}
}

func (r *latencyRecorder) record(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	// Fold a sub-millisecond-scale sequence number into the low bits so
	// equal-latency samples remain distinct entries in the tree.
	key := int64(d)*1_000 + (r.seq % 1_000)
	r.tree.ReplaceOrInsert(key)
}

func (r *latencyRecorder) percentile(p float64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.tree.Len()
	if n == 0 {
		return 0
	}
	idx := int(p * float64(n))
	if idx >= n {
		idx = n - 1
	}
	var result int64
	i := 0
	r.tree.Ascend(func(item int64) bool {
		if i == idx {
			result = item
			return false
		}
		i++
		return true
	})
	return time.Duration(result / 1_000)
}

func (r *latencyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}

func report(logger zerolog.Logger, name string, elapsed time.Duration, rec *latencyRecorder) {
	n := rec.count()
	logger.Info().
		Str("collection", name).
		Int("ops", n).
		Dur("elapsed", elapsed).
		Dur("p50", rec.percentile(0.50)).
		Dur("p90", rec.percentile(0.90)).
		Dur("p99", rec.percentile(0.99)).
		Msg("benchmark complete")
}

func benchDList(logger zerolog.Logger, ops, writers int) {
	l := dlist.New[int](writers + 1)
	rec := newLatencyRecorder()
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			h := l.Join()
			for i := 0; i < ops; i++ {
				t0 := time.Now()
				h.PushBack(i)
				rec.record(time.Since(t0))
			}
		}()
	}
	wg.Wait()
	report(logger, "dlist", time.Since(start), rec)
}

func benchQueue(logger zerolog.Logger, ops int) {
	q := queue.New[int](ops)
	rec := newLatencyRecorder()
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < ops; i++ {
			t0 := time.Now()
			q.Push(i)
			rec.record(time.Since(t0))
		}
	}()
	go func() {
		defer wg.Done()
		popped := 0
		for popped < ops {
			if _, ok := q.Pop(); ok {
				popped++
			}
		}
	}()
	wg.Wait()
	report(logger, "queue", time.Since(start), rec)
}

func benchSpscDeque(logger zerolog.Logger, ops int) {
	d := spscdeque.New[int](64)
	rec := newLatencyRecorder()
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < ops; i++ {
			t0 := time.Now()
			d.PushBack(i)
			rec.record(time.Since(t0))
		}
	}()
	go func() {
		defer wg.Done()
		popped := 0
		for popped < ops {
			if _, ok := d.PopFront(); ok {
				popped++
			}
		}
	}()
	wg.Wait()
	report(logger, "spscdeque", time.Since(start), rec)
}

func main() {
	ops := flag.Int("ops", 100_000, "operations per collection benchmark")
	writers := flag.Int("writers", runtime.GOMAXPROCS(0), "concurrent writer goroutines for the list benchmark")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	benchDList(logger, *ops, *writers)
	benchQueue(logger, *ops)
	benchSpscDeque(logger, *ops)
}
