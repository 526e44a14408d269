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

import "fmt"

// ConfigError indicates an invalid workload field.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid workload %s=%v: %s", e.Field, e.Value, e.Reason)
}

// DivergenceError is returned when a set disagrees with the reference model.
// Running the same workload with Seed reproduces it.
type DivergenceError struct {
	Worker int
	Seed   int64
	// Op is the index of the operation that exposed the divergence.
	Op     int
	Action string
	Key    int64
	Want   string
	Got    string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("worker %d (seed %d) diverged at op %d: %s(%d): want %s, got %s",
		e.Worker, e.Seed, e.Op, e.Action, e.Key, e.Want, e.Got)
}
