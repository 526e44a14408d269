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

package intset

// option provide an interface to do work on Set while it is being created.
type option[K Key] interface {
	apply(s *Set[K])
}

type hashOption[K Key] struct {
	hash func(key K) uint64
}

func (op hashOption[K]) apply(s *Set[K]) {
	s.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Set[K].
// Only the bits selected by the slot mask are used, so the hash function
// should mix entropy into the low bits.
func WithHash[K Key](hash func(key K) uint64) option[K] {
	return hashOption[K]{hash}
}

type loadFactorOption[K Key] struct {
	loadFactor float64
}

func (op loadFactorOption[K]) apply(s *Set[K]) {
	s.loadFactor = op.loadFactor
}

// WithLoadFactor is an option to specify the fraction of slots that may be
// occupied before a Set[K] grows. It must be in the range (0,1). The default
// is 0.6.
func WithLoadFactor[K Key](loadFactor float64) option[K] {
	return loadFactorOption[K]{loadFactor}
}

type noEntryKeyOption[K Key] struct {
	key K
}

func (op noEntryKeyOption[K]) apply(s *Set[K]) {
	s.noEntryKey = op.key
}

// WithNoEntryKey is an option to specify the sentinel key used to mark empty
// slots in a Set[K]. The sentinel can never be added to the set. The default
// is ^K(0).
func WithNoEntryKey[K Key](key K) option[K] {
	return noEntryKeyOption[K]{key}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Set. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slot arrays
// be freed then Set.Close must be called in order to ensure Free is called.
type Allocator[K Key] interface {
	// Alloc should return a slice equivalent to make([]K, n).
	Alloc(n int) []K

	// Free can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc.
	Free(v []K)
}

type defaultAllocator[K Key] struct{}

func (defaultAllocator[K]) Alloc(n int) []K {
	return make([]K, n)
}

func (defaultAllocator[K]) Free(v []K) {
}

type allocatorOption[K Key] struct {
	allocator Allocator[K]
}

func (op allocatorOption[K]) apply(s *Set[K]) {
	s.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Set[K].
func WithAllocator[K Key](allocator Allocator[K]) option[K] {
	return allocatorOption[K]{allocator}
}
