// ════════════════════════════════════════════════════════════════════════════════════════════════
// Episode Runner
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: In-Process Multi-Rank Episode
//
// Description:
//   Builds the reference grid, one partition and one Study per rank over a shared in-process hub,
//   draws seeds, and runs every rank to global quiescence. Crossings are optionally recorded.
//
// Phases:
//   - Phase 0: mesh, hub, studies and seeds
//   - Phase 1: heap cleanup so setup garbage does not land inside the episode
//   - Phase 2: all ranks trace concurrently until quiescent, aborted or cancelled
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	rtdebug "runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"raytrace/comm"
	"raytrace/config"
	"raytrace/localidx"
	"raytrace/mesh"
	"raytrace/pool"
	"raytrace/ray"
	"raytrace/record"
	"raytrace/trace"
	"raytrace/wire"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// outcome aggregates one episode across ranks.
type outcome struct {
	Summaries []trace.Summary
	Recorded  uuid.UUID // zero unless recording
	Stored    uint64

	Finished   uint64
	Duplicates uint64 // ray ids that finished more than once
	Escaped    uint64 // rays that left the grid
	Reversed   uint64 // reverse rays among Finished
	Distance   float64
	Duration   time.Duration
}

// ErrDuplicateFinish reports a ray id that terminated more than once.
var ErrDuplicateFinish = errors.New("episode: ray finished more than once")

// tally collects terminated rays from every rank's workers.
type tally struct {
	finished, escaped, reversed atomic.Uint64

	mu       sync.Mutex
	distance float64
	seen     *localidx.Hash
	dups     uint64
}

// newTally sizes the finish index for at most n rays.
func newTally(n int) *tally {
	return &tally{seen: localidx.New(max(n, 1))}
}

func (t *tally) finish(r *ray.Ray) {
	t.finished.Add(1)
	if !r.EndsWithinMesh() {
		t.escaped.Add(1)
	}
	if r.IsReverse() {
		t.reversed.Add(1)
	}
	t.mu.Lock()
	t.distance += r.Distance()
	if _, ok := t.seen.Get(r.ID()); ok {
		t.dups++
	} else {
		t.seen.Put(r.ID(), 1)
	}
	t.mu.Unlock()
}

// pathKernel spreads each segment's length over the payload by slab.
func pathKernel(r *ray.Ray, c mesh.Cell, length float64) {
	if d := r.Data(); len(d) > 0 {
		d[c.Index()[0]%len(d)] += length
	}
}

// runEpisode runs one in-process episode described by cfg.
func runEpisode(ctx context.Context, cfg config.Config, log *slog.Logger) (outcome, error) {
	// PHASE 0: topology, studies and seeds
	ranks := cfg.Episode.Ranks
	grid, err := mesh.NewGrid(
		[3]int{cfg.Mesh.NX, cfg.Mesh.NY, cfg.Mesh.NZ},
		ray.NewPoint(cfg.Mesh.Min[0], cfg.Mesh.Min[1], cfg.Mesh.Min[2]),
		ray.NewPoint(cfg.Mesh.Max[0], cfg.Mesh.Max[1], cfg.Mesh.Max[2]),
		ranks)
	if err != nil {
		return outcome{}, err
	}
	policy, err := pool.ParsePolicy(cfg.Pool.Policy)
	if err != nil {
		return outcome{}, err
	}
	nz := float64(cfg.Mesh.NZ)
	density := func(c mesh.Cell) float64 { return 1 + float64(c.Index()[2])/nz }

	var out outcome
	var rec *record.Recorder
	if cfg.Record.Enabled {
		rec, err = record.Open(ctx, record.Options{
			Path:   cfg.Record.Path,
			Label:  fmt.Sprintf("%d ranks, %d rays/rank, seed %d", ranks, cfg.Episode.Rays, cfg.Episode.Seed),
			Ranks:  ranks,
			Batch:  cfg.Record.Batch,
			Logger: log,
		})
		if err != nil {
			return outcome{}, err
		}
		out.Recorded = rec.Episode()
	}

	hub := comm.NewHub(ranks, cfg.Mailbox.Capacity)
	// a reverse ray per seed at most
	t := newTally(2 * ranks * cfg.Episode.Rays)
	studies := make([]*trace.Study, ranks)
	seeds := make([][]trace.Seed, ranks)
	for r := range ranks {
		part, err := grid.Partition(r)
		if err != nil {
			return out, closeRecorder(rec, &out, err)
		}
		opts := trace.Options{
			Workers:      cfg.Episode.Workers,
			PoolCapacity: cfg.PoolCapacity(),
			PoolPolicy:   policy,
			Schema:       wire.Schema{DataLen: cfg.Wire.DataLen, PolarLen: cfg.Wire.PolarLen},
			NewStepper: func(int) trace.Stepper {
				return part.NewStepper(mesh.StepperOptions{Kernel: pathKernel, Weight: density})
			},
			Resolver:  part,
			Transport: hub.Endpoint(r),
			OnFinish:  t.finish,
			Logger:    log,
		}
		if rec != nil {
			opts.Recorder = rec
		}
		if studies[r], err = trace.New(opts); err != nil {
			return out, closeRecorder(rec, &out, err)
		}
		seeds[r] = generateSeeds(part, cfg)
	}
	log.Info("episode ready", "ranks", ranks, "cells", grid.NumCells(), "rays_per_rank", cfg.Episode.Rays)

	// PHASE 1: heap cleanup
	runtime.GC()
	rtdebug.FreeOSMemory()

	// PHASE 2: trace
	if d := cfg.Episode.Timeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	begin := time.Now()
	out.Summaries = make([]trace.Summary, ranks)
	errs := make([]error, ranks)
	var g errgroup.Group
	for r := range ranks {
		g.Go(func() error {
			out.Summaries[r], errs[r] = studies[r].Run(ctx, seeds[r])
			return errs[r]
		})
	}
	g.Wait()
	out.Duration = time.Since(begin)
	out.Finished = t.finished.Load()
	out.Escaped = t.escaped.Load()
	out.Reversed = t.reversed.Load()
	out.Distance = t.distance
	out.Duplicates = t.dups

	err = rootCause(errs)
	if err == nil && out.Duplicates > 0 {
		err = fmt.Errorf("%w: %d ids", ErrDuplicateFinish, out.Duplicates)
	}
	return out, closeRecorder(rec, &out, err)
}

// rootCause picks the first error that is not another rank's abort echo.
func rootCause(errs []error) error {
	var echo error
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, trace.ErrAborted):
			if echo == nil {
				echo = err
			}
		default:
			return err
		}
	}
	return echo
}

func closeRecorder(rec *record.Recorder, out *outcome, err error) error {
	if rec == nil {
		return err
	}
	cerr := rec.Close()
	out.Stored = rec.Stored()
	return errors.Join(err, cerr)
}
