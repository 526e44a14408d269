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

package stress

import (
	"context"
	"errors"
	"testing"

	"github.com/cockroachdb/intset"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func smallWorkload() Workload {
	w := DefaultWorkload()
	w.Workers = 3
	w.Ops = 5000
	w.KeySpace = 300
	w.CheckEvery = 500
	return w
}

func TestRun(t *testing.T) {
	w := smallWorkload()
	results, err := Run(context.Background(), w, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, results, w.Workers)

	for i, r := range results {
		require.Equal(t, i, r.Worker)
		require.Equal(t, w.Seed+int64(i), r.Seed)
		require.Equal(t, w.Ops, r.Ops)
		require.Equal(t, w.Ops, r.Adds+r.Removes+r.Lookups+r.Clears)
		require.LessOrEqual(t, r.Added, r.Adds)
		require.LessOrEqual(t, r.Removed, r.Removes)
		require.LessOrEqual(t, r.Len, int(w.KeySpace))
		require.Less(t, r.Len, r.Capacity)
		// 10 periodic checks plus the final one.
		require.Equal(t, w.Ops/w.CheckEvery+1, r.Checks)
		require.Len(t, r.Digest, 64)
	}
}

func TestRunDeterministic(t *testing.T) {
	w := smallWorkload()
	a, err := Run(context.Background(), w, nil)
	require.NoError(t, err)
	b, err := Run(context.Background(), w, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("results differ between runs (-first +second):\n%s", diff)
	}

	// A different seed produces a different history.
	w.Seed++
	c, err := Run(context.Background(), w, nil)
	require.NoError(t, err)
	require.NotEqual(t, a[0].Digest, c[0].Digest)
	// Worker i of the shifted run replays worker i+1 of the first run.
	if diff := cmp.Diff(a[1:], c[:len(c)-1], cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Worker"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("shifted results differ (-first +second):\n%s", diff)
	}
}

func TestRunGrows(t *testing.T) {
	w := smallWorkload()
	w.Workers = 1
	w.KeySpace = 1 << 20
	w.Mix = Mix{Add: 1}
	results, err := Run(context.Background(), w, nil)
	require.NoError(t, err)

	r := results[0]
	require.Equal(t, r.Added, r.Len)
	// 16 -> 32 -> ... -> 8192 holds the ~5000 distinct keys.
	require.Equal(t, 9, r.Grows)
	require.Equal(t, 8192, r.Capacity)
}

func TestRunCustomNoEntryKey(t *testing.T) {
	w := smallWorkload()
	w.NoEntryKey = 0
	w.KeySpace = 8
	_, err := Run(context.Background(), w, nil)
	require.NoError(t, err)
}

func TestRunInvalidWorkload(t *testing.T) {
	w := smallWorkload()
	w.Workers = 0
	_, err := Run(context.Background(), w, nil)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, smallWorkload(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestVerifyDetectsDivergence(t *testing.T) {
	w := smallWorkload()

	t.Run("missing from set", func(t *testing.T) {
		wk := newWorker(w, 0, zaptest.NewLogger(t))
		defer wk.close()
		wk.ref.Add(7)
		err := wk.verify(0)
		var divErr *DivergenceError
		require.True(t, errors.As(err, &divErr), "%v", err)
		require.Equal(t, "len", divErr.Action)
	})

	t.Run("extra in set", func(t *testing.T) {
		wk := newWorker(w, 1, zaptest.NewLogger(t))
		defer wk.close()
		wk.set.Add(7)
		wk.ref.Add(8)
		err := wk.verify(3)
		var divErr *DivergenceError
		require.True(t, errors.As(err, &divErr), "%v", err)
		require.Equal(t, "verify", divErr.Action)
		require.EqualValues(t, 8, divErr.Key)
		require.Equal(t, 1, divErr.Worker)
		require.Equal(t, 3, divErr.Op)
		require.Contains(t, divErr.Error(), "worker 1")
	})

	t.Run("step", func(t *testing.T) {
		// Without clears, every key in the space is present in the set but
		// not in the reference, so the first operation diverges.
		w := w
		w.Mix.Clear = 0
		wk := newWorker(w, 0, zaptest.NewLogger(t))
		defer wk.close()
		for k := int64(0); k < w.KeySpace; k++ {
			wk.set.Add(k)
		}
		err := wk.step(0)
		var divErr *DivergenceError
		require.True(t, errors.As(err, &divErr), "%v", err)
	})
}

func TestDigest(t *testing.T) {
	a := intset.New[int64](0)
	b := intset.New[int64](1000)
	require.Equal(t, Digest(a), Digest(b))

	for i := int64(0); i < 100; i++ {
		a.Add(i)
		b.Add(99 - i)
	}
	require.Equal(t, Digest(a), Digest(b))

	b.Remove(42)
	require.NotEqual(t, Digest(a), Digest(b))
	b.Add(42)
	require.Equal(t, Digest(a), Digest(b))
}
