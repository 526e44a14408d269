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

// Package cli implements the intset-stress command.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/intset/internal/stress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	configPath string
	seed       int64
	workers    int
	ops        int
	keySpace   int64
	loadFactor float64
	verbose    bool
}

// NewRootCommand returns the intset-stress command. It logs through a zap
// production logger.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newProductionLogger)
}

// newProductionLogger builds a zap production logger, at debug level when
// verbose is set.
func newProductionLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func newRootCommand(newLogger func(verbose bool) (*zap.Logger, error)) *cobra.Command {
	var (
		opts   options
		logger *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "intset-stress",
		Short: "Cross-check intset.Set against a reference model",
		Long: `intset-stress runs randomized add, remove, contains and clear operations
against independent intset.Set instances, one per worker, and compares every
result with a roaring64 bitmap. A divergence is reported with the worker seed
needed to reproduce it.

The workload is read from --config (YAML) when given. Flags override the
corresponding workload fields.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = newLogger(opts.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := loadWorkload(cmd, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, w, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML workload file")
	flags.Int64Var(&opts.seed, "seed", 0, "seed of the first worker")
	flags.IntVar(&opts.workers, "workers", 0, "number of concurrent workers")
	flags.IntVar(&opts.ops, "ops", 0, "operations per worker")
	flags.Int64Var(&opts.keySpace, "key-space", 0, "keys are drawn from [0, key-space)")
	flags.Float64Var(&opts.loadFactor, "load-factor", 0, "load factor of each set")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadWorkload reads the configured workload and applies flag overrides.
func loadWorkload(cmd *cobra.Command, opts options) (stress.Workload, error) {
	w := stress.DefaultWorkload()
	if opts.configPath != "" {
		var err error
		if w, err = stress.LoadWorkload(opts.configPath); err != nil {
			return stress.Workload{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		w.Seed = opts.seed
	}
	if flags.Changed("workers") {
		w.Workers = opts.workers
	}
	if flags.Changed("ops") {
		w.Ops = opts.ops
	}
	if flags.Changed("key-space") {
		w.KeySpace = opts.keySpace
	}
	if flags.Changed("load-factor") {
		w.LoadFactor = opts.loadFactor
	}
	return w, w.Validate()
}

func run(ctx context.Context, cmd *cobra.Command, w stress.Workload, logger *zap.Logger) error {
	logger.Info("starting stress run",
		zap.Int64("seed", w.Seed),
		zap.Int("workers", w.Workers),
		zap.Int("ops", w.Ops),
		zap.Int64("key_space", w.KeySpace),
		zap.Float64("load_factor", w.LoadFactor))

	start := time.Now()
	results, err := stress.Run(ctx, w, logger)
	if err != nil {
		logger.Error("stress run failed", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-6s %-8s %8s %8s %8s %6s %s\n",
		"worker", "seed", "ops", "len", "capacity", "grows", "digest")
	for _, r := range results {
		logger.Info("worker result",
			zap.Int("worker", r.Worker),
			zap.Int64("seed", r.Seed),
			zap.Int("ops", r.Ops),
			zap.Int("len", r.Len),
			zap.Int("grows", r.Grows),
			zap.Uint64("hash_code", r.HashCode),
			zap.String("digest", r.Digest))
		fmt.Fprintf(out, "%-6d %-8d %8d %8d %8d %6d %s\n",
			r.Worker, r.Seed, r.Ops, r.Len, r.Capacity, r.Grows, r.Digest)
	}
	logger.Info("stress run finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}
