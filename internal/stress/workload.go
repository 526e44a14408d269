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
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Mix holds the relative weights of the operations a worker performs. The
// weights need not sum to 1.
type Mix struct {
	Add      float64 `yaml:"add"`
	Remove   float64 `yaml:"remove"`
	Contains float64 `yaml:"contains"`
	Clear    float64 `yaml:"clear"`
}

func (m Mix) total() float64 {
	return m.Add + m.Remove + m.Contains + m.Clear
}

// Workload describes a stress run.
type Workload struct {
	// Seed of the first worker. Worker i uses Seed+i.
	Seed int64 `yaml:"seed"`
	// Workers is the number of independent sets exercised concurrently.
	Workers int `yaml:"workers"`
	// Ops is the number of operations each worker performs.
	Ops int `yaml:"ops"`
	// KeySpace bounds the keys to [0, KeySpace). A smaller key space means
	// more duplicate adds and successful removes.
	KeySpace int64 `yaml:"key_space"`

	InitialCapacity int     `yaml:"initial_capacity"`
	LoadFactor      float64 `yaml:"load_factor"`
	NoEntryKey      int64   `yaml:"no_entry_key"`

	// CheckEvery is the number of operations between full membership
	// checks against the reference model. Zero disables them; the size is
	// still compared after every operation.
	CheckEvery int `yaml:"check_every"`

	Mix Mix `yaml:"mix"`
}

// DefaultWorkload returns the workload used when no config file is given.
func DefaultWorkload() Workload {
	return Workload{
		Seed:            1,
		Workers:         4,
		Ops:             100_000,
		KeySpace:        1 << 14,
		InitialCapacity: 16,
		LoadFactor:      0.6,
		NoEntryKey:      -1,
		CheckEvery:      10_000,
		Mix: Mix{
			Add:      0.5,
			Remove:   0.2,
			Contains: 0.29,
			Clear:    0.01,
		},
	}
}

// LoadWorkload reads a workload from a YAML file. Fields missing from the
// file keep their default values, and a missing file yields the defaults.
func LoadWorkload(path string) (Workload, error) {
	w := DefaultWorkload()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return Workload{}, fmt.Errorf("failed to read workload: %w", err)
	}

	if err := yaml.Unmarshal(data, &w); err != nil {
		return Workload{}, fmt.Errorf("failed to parse workload %s: %w", path, err)
	}
	return w, nil
}

// Validate returns a *ConfigError describing the first invalid field.
func (w *Workload) Validate() error {
	switch {
	case w.Workers <= 0:
		return &ConfigError{Field: "workers", Value: w.Workers, Reason: "must be positive"}
	case w.Ops < 0:
		return &ConfigError{Field: "ops", Value: w.Ops, Reason: "must not be negative"}
	case w.KeySpace <= 0:
		return &ConfigError{Field: "key_space", Value: w.KeySpace, Reason: "must be positive"}
	case w.InitialCapacity < 0:
		return &ConfigError{Field: "initial_capacity", Value: w.InitialCapacity, Reason: "must not be negative"}
	case !(w.LoadFactor > 0 && w.LoadFactor < 1):
		return &ConfigError{Field: "load_factor", Value: w.LoadFactor, Reason: "must be in (0,1)"}
	case w.CheckEvery < 0:
		return &ConfigError{Field: "check_every", Value: w.CheckEvery, Reason: "must not be negative"}
	}

	weights := []struct {
		name string
		v    float64
	}{
		{"mix.add", w.Mix.Add},
		{"mix.remove", w.Mix.Remove},
		{"mix.contains", w.Mix.Contains},
		{"mix.clear", w.Mix.Clear},
	}
	for _, wt := range weights {
		if wt.v < 0 || math.IsNaN(wt.v) || math.IsInf(wt.v, 0) {
			return &ConfigError{Field: wt.name, Value: wt.v, Reason: "must be a finite non-negative weight"}
		}
	}
	if w.Mix.total() <= 0 {
		return &ConfigError{Field: "mix", Value: w.Mix, Reason: "at least one weight must be positive"}
	}
	return nil
}
