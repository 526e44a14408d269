// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stress runs randomized operation sequences against intset.Set and
// cross-checks every result against a roaring64 bitmap.
//
// Each worker owns its own set and reference model, so workers run in
// parallel without sharing a Set between goroutines.
package stress

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math/rand"
	"slices"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cockroachdb/intset"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"
)

// cancelCheckInterval is the number of operations between checks for
// context cancellation.
const cancelCheckInterval = 1024

// Result summarizes the run of a single worker.
type Result struct {
	Worker int
	Seed   int64
	Ops    int

	Adds     int
	Removes  int
	Lookups  int
	Clears   int
	Added    int
	Removed  int
	Found    int
	Checks   int
	Grows    int
	Len      int
	Capacity int
	HashCode uint64
	// Digest is the blake3 hash of the final keys in ascending order.
	Digest string
}

// Run executes the workload and returns one Result per worker, ordered by
// worker. The first divergence or cancellation stops all workers.
func Run(ctx context.Context, w Workload, logger *zap.Logger) ([]Result, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]Result, w.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.Workers; i++ {
		g.Go(func() error {
			wk := newWorker(w, i, logger.With(zap.Int("worker", i)))
			defer wk.close()
			r, err := wk.run(ctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Digest returns the hex encoded blake3 hash of the keys in s in ascending
// order. Equal sets have equal digests regardless of capacity or insertion
// order.
func Digest(s *intset.Set[int64]) string {
	keys := make([]int64, 0, s.Len())
	s.All(func(k int64) bool {
		keys = append(keys, k)
		return true
	})
	slices.Sort(keys)

	buf := make([]byte, 0, 8*len(keys))
	for _, k := range keys {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(k))
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// countingAllocator counts slot array allocations so that the runner can
// report how often a set grew.
type countingAllocator struct {
	allocs int
}

func (a *countingAllocator) Alloc(n int) []int64 {
	a.allocs++
	return make([]int64, n)
}

func (a *countingAllocator) Free(_ []int64) {}

type worker struct {
	w      Workload
	id     int
	seed   int64
	rng    *rand.Rand
	alloc  *countingAllocator
	set    *intset.Set[int64]
	ref    *roaring64.Bitmap
	logger *zap.Logger
	res    Result
}

func newWorker(w Workload, id int, logger *zap.Logger) *worker {
	seed := w.Seed + int64(id)
	alloc := &countingAllocator{}
	return &worker{
		w:     w,
		id:    id,
		seed:  seed,
		rng:   rand.New(rand.NewSource(seed)),
		alloc: alloc,
		set: intset.New[int64](w.InitialCapacity,
			intset.WithLoadFactor[int64](w.LoadFactor),
			intset.WithNoEntryKey[int64](w.NoEntryKey),
			intset.WithAllocator[int64](alloc)),
		ref:    roaring64.New(),
		logger: logger,
		res:    Result{Worker: id, Seed: seed},
	}
}

func (wk *worker) close() {
	wk.set.Close()
}

func (wk *worker) run(ctx context.Context) (Result, error) {
	wk.logger.Debug("worker started",
		zap.Int64("seed", wk.seed),
		zap.Int("ops", wk.w.Ops),
		zap.Int("capacity", wk.set.Capacity()))

	for op := 0; op < wk.w.Ops; op++ {
		if op%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		if err := wk.step(op); err != nil {
			wk.logger.Error("divergence", zap.Error(err))
			return Result{}, err
		}
		if wk.w.CheckEvery > 0 && (op+1)%wk.w.CheckEvery == 0 {
			if err := wk.verify(op); err != nil {
				wk.logger.Error("divergence", zap.Error(err))
				return Result{}, err
			}
		}
	}
	if err := wk.verify(wk.w.Ops); err != nil {
		wk.logger.Error("divergence", zap.Error(err))
		return Result{}, err
	}

	wk.res.Ops = wk.w.Ops
	wk.res.Grows = wk.alloc.allocs - 1
	wk.res.Len = wk.set.Len()
	wk.res.Capacity = wk.set.Capacity()
	wk.res.HashCode = wk.set.HashCode()
	wk.res.Digest = Digest(wk.set)

	wk.logger.Debug("worker finished",
		zap.Int("len", wk.res.Len),
		zap.Int("grows", wk.res.Grows),
		zap.String("digest", wk.res.Digest))
	return wk.res, nil
}

// key returns a random key drawn from [0, KeySpace). A draw equal to the
// no-entry key is remapped to KeySpace.
func (wk *worker) key() int64 {
	k := wk.rng.Int63n(wk.w.KeySpace)
	if k == wk.w.NoEntryKey {
		k = wk.w.KeySpace
	}
	return k
}

// step performs a single random operation on both the set and the reference
// model and compares the outcomes.
func (wk *worker) step(op int) error {
	mix := wk.w.Mix
	r := wk.rng.Float64() * mix.total()

	switch {
	case r < mix.Add:
		k := wk.key()
		want := !wk.ref.Contains(uint64(k))
		got := wk.set.Add(k)
		wk.ref.Add(uint64(k))
		wk.res.Adds++
		if got {
			wk.res.Added++
		}
		if got != want {
			return wk.diverged(op, "add", k, strconv.FormatBool(want), strconv.FormatBool(got))
		}

	case r < mix.Add+mix.Remove:
		k := wk.key()
		want := wk.ref.Contains(uint64(k))
		got := wk.set.Remove(k)
		wk.ref.Remove(uint64(k))
		wk.res.Removes++
		if got {
			wk.res.Removed++
		}
		if got != want {
			return wk.diverged(op, "remove", k, strconv.FormatBool(want), strconv.FormatBool(got))
		}

	case r < mix.Add+mix.Remove+mix.Contains:
		k := wk.key()
		want := wk.ref.Contains(uint64(k))
		got := wk.set.Contains(k)
		wk.res.Lookups++
		if got {
			wk.res.Found++
		}
		if got != want {
			return wk.diverged(op, "contains", k, strconv.FormatBool(want), strconv.FormatBool(got))
		}

	default:
		wk.set.Clear()
		wk.ref.Clear()
		wk.res.Clears++
	}

	if want, got := int(wk.ref.GetCardinality()), wk.set.Len(); want != got {
		return wk.diverged(op, "len", 0, strconv.Itoa(want), strconv.Itoa(got))
	}
	return nil
}

// verify compares the full contents of the set with the reference model in
// both directions.
func (wk *worker) verify(op int) error {
	wk.res.Checks++

	if want, got := int(wk.ref.GetCardinality()), wk.set.Len(); want != got {
		return wk.diverged(op, "len", 0, strconv.Itoa(want), strconv.Itoa(got))
	}

	it := wk.ref.Iterator()
	for it.HasNext() {
		k := int64(it.Next())
		if !wk.set.Contains(k) {
			return wk.diverged(op, "verify", k, "present", "missing")
		}
	}

	var err error
	wk.set.All(func(k int64) bool {
		if !wk.ref.Contains(uint64(k)) {
			err = wk.diverged(op, "verify", k, "missing", "present")
			return false
		}
		return true
	})
	return err
}

func (wk *worker) diverged(op int, action string, key int64, want, got string) error {
	return &DivergenceError{
		Worker: wk.id,
		Seed:   wk.seed,
		Op:     op,
		Action: action,
		Key:    key,
		Want:   want,
		Got:    got,
	}
}
