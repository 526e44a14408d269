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

// Package intset is an open-addressing hash set for fixed-width integer
// keys. See https://en.wikipedia.org/wiki/Open_addressing and
// https://en.wikipedia.org/wiki/Linear_probing.
//
// # Layout
//
// A Set stores its keys directly in a single power-of-two sized slice. There
// is no separate metadata array: an empty slot is marked by a reserved
// sentinel key (the "no entry" key) which can never be a member of the set.
// By default the sentinel is ^K(0), i.e. -1 for signed key types and the
// maximum value for unsigned key types. A different sentinel can be
// specified with WithNoEntryKey.
//
// Probing starts at hash(key)&mask and walks forward one slot at a time,
// wrapping at the end of the slice, until either the key or an empty slot is
// found. The table is never allowed to become full, so every probe
// terminates.
//
// # Capacity
//
// The capacity of a Set is the number of insertions it accepts before it has
// to grow, not the number of slots. The slot count is derived from the
// capacity and the load factor:
//
//	slots = ceilPow2(int(capacity / loadFactor))
//
// For the default capacity of 16 and load factor of 0.6 that is 32 slots.
// Each successful Add decrements the free count and the set grows as soon as
// the free count drops below 1, which means a fresh set with capacity N
// grows on its Nth distinct insertion. Growing doubles the capacity,
// allocates a new slot array and reinserts every live key.
//
// # Deletion
//
// Deletion does not use tombstones. After a key is erased the following run
// of occupied slots is scanned and every key that would no longer be
// reachable from its ideal slot is shifted back into the hole (backward shift
// deletion). The scan stops at the first empty slot. See
// https://codecapsule.com/2013/11/17/robin-hood-hashing-backward-shift-deletion/
// for the general technique.
package intset

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
)

const (
	debug = false

	// minInitialCapacity is the smallest logical capacity of a Set.
	minInitialCapacity = 16
	// maxSlots bounds the slot count so that ceilPow2 cannot overflow.
	maxSlots = 1 << (bits.UintSize - 2)
	// defaultLoadFactor is the fraction of slots that may be occupied
	// before the set grows.
	defaultLoadFactor = 0.6
)

// Key is the set of types that can be stored in a Set.
type Key interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Set is an unordered set of integer keys with Add, Contains, Remove, and All
// operations. It uses open addressing with linear probing over a single
// power-of-two sized slice of keys.
//
// A Set is NOT goroutine-safe.
type Set[K Key] struct {
	// The hash function applied to each key. Defaults to fmix64.
	hash func(key K) uint64
	// The allocator to use for the keys slice.
	allocator Allocator[K]
	// keys is a power of two in length. Slots that do not hold a key hold
	// noEntryKey.
	keys []K
	// noEntryKey marks an empty slot and can never be stored.
	noEntryKey K
	// loadFactor is the fraction of slots that may be filled.
	loadFactor float64
	// mask is len(keys)-1 and is used to compute i%len(keys).
	mask int
	// capacity is the number of keys the set accepts before it must grow.
	capacity int
	// free is the number of insertions left before a rehash. The number of
	// keys in the set is capacity-free.
	free int
}

// New constructs a new Set with the specified initial capacity. Capacities
// smaller than 16 are rounded up to 16. New panics if a configured option is
// invalid (e.g. a load factor outside of (0,1)).
func New[K Key](initialCapacity int, options ...option[K]) *Set[K] {
	s := &Set[K]{}
	s.Init(initialCapacity, options...)
	return s
}

// Init initializes a Set with the specified initial capacity, discarding any
// previous contents. Init can be used on a zero Set, or to reinitialize an
// existing one.
func (s *Set[K]) Init(initialCapacity int, options ...option[K]) {
	if s.allocator != nil && s.keys != nil {
		s.allocator.Free(s.keys)
	}
	*s = Set[K]{
		hash:       fmix64[K],
		allocator:  defaultAllocator[K]{},
		noEntryKey: ^K(0),
		loadFactor: defaultLoadFactor,
	}

	for _, op := range options {
		op.apply(s)
	}

	if !(s.loadFactor > 0 && s.loadFactor < 1) {
		panic(fmt.Sprintf("intset: load factor must be in (0,1), got %v", s.loadFactor))
	}
	if initialCapacity < minInitialCapacity {
		initialCapacity = minInitialCapacity
	}

	s.capacity = initialCapacity
	s.keys = s.allocKeys(slotCount(s.capacity, s.loadFactor))
	s.mask = len(s.keys) - 1
	s.free = s.capacity
	s.checkInvariants()
}

// Close releases the slot array back to the configured allocator. It is
// unnecessary to close a set using the default allocator. It is invalid to
// use a Set after it has been closed, though Close itself is idempotent.
func (s *Set[K]) Close() {
	if s.keys != nil && s.allocator != nil {
		s.allocator.Free(s.keys)
	}
	s.keys = nil
	s.mask = 0
	s.capacity = 0
	s.free = 0
	s.allocator = nil
}

// Add inserts key into the set. It returns false if key was already present,
// in which case the set is left unchanged. Adding the no-entry key panics.
func (s *Set[K]) Add(key K) bool {
	if key == s.noEntryKey {
		panic(fmt.Sprintf("intset: cannot add the no-entry key %v", key))
	}
	i, found := s.keyIndex(key)
	if found {
		return false
	}
	if debug {
		fmt.Printf("add(%v): index=%d free=%d\n", key, i, s.free-1)
	}
	s.keys[i] = key
	s.free--
	if s.free < 1 {
		s.rehash()
	}
	s.checkInvariants()
	return true
}

// Contains returns true if key is present in the set. The no-entry key is
// never present.
func (s *Set[K]) Contains(key K) bool {
	if key == s.noEntryKey {
		return false
	}
	_, found := s.keyIndex(key)
	return found
}

// Excludes returns true if key is not present in the set.
func (s *Set[K]) Excludes(key K) bool {
	return !s.Contains(key)
}

// Remove deletes key from the set, returning true if it was present.
// Removing the no-entry key panics.
func (s *Set[K]) Remove(key K) bool {
	if key == s.noEntryKey {
		panic(fmt.Sprintf("intset: cannot remove the no-entry key %v", key))
	}
	i, found := s.keyIndex(key)
	if !found {
		return false
	}
	s.removeAt(i)
	s.checkInvariants()
	return true
}

// Len returns the number of keys in the set.
func (s *Set[K]) Len() int {
	return s.capacity - s.free
}

// Capacity returns the number of keys the set can hold before it grows.
func (s *Set[K]) Capacity() int {
	return s.capacity
}

// Clear removes all keys from the set. The capacity is retained.
func (s *Set[K]) Clear() {
	for i := range s.keys {
		s.keys[i] = s.noEntryKey
	}
	s.free = s.capacity
	s.checkInvariants()
}

// All calls yield sequentially for each key present in the set, in slot
// order. If yield returns false, iteration stops. The set must not be
// mutated during iteration.
func (s *Set[K]) All(yield func(key K) bool) {
	for _, k := range s.keys {
		if k == s.noEntryKey {
			continue
		}
		if !yield(k) {
			return
		}
	}
}

// Equal returns true if both sets hold exactly the same keys. Two nil sets
// are equal, and a nil set is equal to an empty one.
func (s *Set[K]) Equal(other *Set[K]) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return s.size() == other.size()
	}
	if s.Len() != other.Len() {
		return false
	}
	for _, k := range s.keys {
		if k != s.noEntryKey && other.Excludes(k) {
			return false
		}
	}
	return true
}

// HashCode returns the sum of the keys in the set. It is independent of the
// order in which keys were added, so equal sets have equal hash codes.
func (s *Set[K]) HashCode() uint64 {
	var h uint64
	for _, k := range s.keys {
		if k != s.noEntryKey {
			h += uint64(k)
		}
	}
	return h
}

// String renders the raw slot array, including the no-entry keys of empty
// slots. It is intended for debugging.
func (s *Set[K]) String() string {
	return fmt.Sprint(s.keys)
}

// size is Len for a possibly nil receiver.
func (s *Set[K]) size() int {
	if s == nil {
		return 0
	}
	return s.Len()
}

// keyIndex returns the slot holding key and found=true, or the empty slot at
// which key would be inserted and found=false.
func (s *Set[K]) keyIndex(key K) (index int, found bool) {
	return s.probe(key, int(s.hash(key))&s.mask)
}

// probe walks forward from slot i looking for key.
func (s *Set[K]) probe(key K, i int) (index int, found bool) {
	for {
		switch s.keys[i] {
		case key:
			return i, true
		case s.noEntryKey:
			return i, false
		}
		i = (i + 1) & s.mask
	}
}

// removeAt erases the key at slot i and closes the hole it leaves in the
// probe chain.
func (s *Set[K]) removeAt(i int) {
	if debug {
		fmt.Printf("remove(%v): index=%d free=%d\n", s.keys[i], i, s.free+1)
	}
	s.keys[i] = s.noEntryKey
	s.free++

	// Walk the run of occupied slots following the hole. A key whose ideal
	// slot lies cyclically in (hole, from] is still reachable and stays put.
	// Any other key would now be cut off from its ideal slot by the hole,
	// so it is shifted back into the hole, which moves the hole to from.
	// The run ends at the first empty slot.
	hole := i
	for from := (i + 1) & s.mask; s.keys[from] != s.noEntryKey; from = (from + 1) & s.mask {
		key := s.keys[from]
		ideal := int(s.hash(key)) & s.mask
		if (from-ideal)&s.mask < (from-hole)&s.mask {
			continue
		}
		if debug {
			fmt.Printf("remove(shifting): key=%v %d -> %d\n", key, from, hole)
		}
		s.keys[hole] = key
		s.keys[from] = s.noEntryKey
		hole = from
	}
}

// rehash doubles the capacity of the set and reinserts every key into a new
// slot array.
func (s *Set[K]) rehash() {
	newCapacity := grownCapacity(s.capacity)
	oldKeys := s.keys

	s.keys = s.allocKeys(slotCount(newCapacity, s.loadFactor))
	s.mask = len(s.keys) - 1
	s.capacity = newCapacity
	s.free = newCapacity

	if debug {
		fmt.Printf("rehash: capacity=%d slots=%d->%d\n", newCapacity, len(oldKeys), len(s.keys))
	}

	for _, k := range oldKeys {
		if k == s.noEntryKey {
			continue
		}
		i, _ := s.keyIndex(k)
		s.keys[i] = k
		s.free--
	}

	s.allocator.Free(oldKeys)
}

// allocKeys allocates n slots and marks all of them empty.
func (s *Set[K]) allocKeys(n int) []K {
	keys := s.allocator.Alloc(n)
	for i := range keys {
		keys[i] = s.noEntryKey
	}
	return keys
}

func (s *Set[K]) checkInvariants() {
	if invariants {
		if n := len(s.keys); n == 0 || n&(n-1) != 0 {
			panic(fmt.Sprintf("invariant failed: slot count %d is not a power of two\n%s", n, s.debugString()))
		}
		if s.mask != len(s.keys)-1 {
			panic(fmt.Sprintf("invariant failed: mask %d for %d slots\n%s", s.mask, len(s.keys), s.debugString()))
		}
		if s.free < 1 {
			panic(fmt.Sprintf("invariant failed: free=%d\n%s", s.free, s.debugString()))
		}

		// For every occupied slot, verify that probing for its key stops
		// at that slot. This also verifies that there are no duplicates.
		var used int
		for i, k := range s.keys {
			if k == s.noEntryKey {
				continue
			}
			if j, found := s.keyIndex(k); !found || j != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v found=%t at %d [ideal=%d]\n%s",
					i, k, found, j, int(s.hash(k))&s.mask, s.debugString()))
			}
			used++
		}
		if used != s.Len() {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but len is %d\n%s",
				used, s.Len(), s.debugString()))
		}
	}
}

func (s *Set[K]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  len=%d  free=%d  slots=%d\n", s.capacity, s.Len(), s.free, len(s.keys))
	for i, k := range s.keys {
		if k == s.noEntryKey {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
			continue
		}
		fmt.Fprintf(&buf, "  %4d: %v [ideal=%d]\n", i, k, int(s.hash(k))&s.mask)
	}
	return buf.String()
}

// slotCount returns the number of slots backing a set with the specified
// logical capacity and load factor.
// It panics if the slot count cannot be represented.
func slotCount(capacity int, loadFactor float64) int {
	n := float64(capacity) / loadFactor
	if !(n < maxSlots) {
		panic(fmt.Sprintf("intset: capacity %d with load factor %v needs too many slots", capacity, loadFactor))
	}
	return ceilPow2(int(n))
}

// grownCapacity returns the capacity of a set after it grows.
func grownCapacity(capacity int) int {
	if capacity > math.MaxInt/2 {
		panic(fmt.Sprintf("intset: cannot grow beyond capacity %d", capacity))
	}
	return capacity * 2
}

// ceilPow2 returns the smallest power of two >= v.
func ceilPow2(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

// fmix64 is the 64-bit finalizer from MurmurHash3. It scrambles all of the
// bits of the key so that sequential keys do not land in sequential slots.
func fmix64[K Key](key K) uint64 {
	h := uint64(key)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}
