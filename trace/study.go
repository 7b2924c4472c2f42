// ════════════════════════════════════════════════════════════════════════════════════════════════
// Traversal Orchestrator
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Per-Rank Ray Lifecycle
//
// Description:
//   A Study runs one traversal episode on one rank. A fixed group of workers repeatedly takes
//   the next unit of work, preferring rays handed over by other ranks to local seeds, and traces
//   it until the ray terminates or leaves the rank. Leaving rays are packed, sent and released;
//   arriving rays are unpacked into freshly acquired pool slots.
//
// Lifecycle of one ray:
//   acquire → reset (seed) or unpack (arrival) → step until done →
//     terminated: OnFinish, retire, release
//     crossed:    count the crossing, pack, send, release
//
// Termination:
//   Every seed is registered with the transport before the rank reports Ready. Hand-offs keep
//   the ray registered, so the episode ends on every rank once the transport reports quiescence.
//   Any fatal error aborts the episode for all ranks.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"raytrace/comm"
	"raytrace/constants"
	"raytrace/pool"
	"raytrace/ray"
	"raytrace/wire"
)

// Recorder observes every packed crossing. It must copy scalars if it
// keeps them and must be safe for concurrent use.
type Recorder interface {
	Crossing(from, to int, scalars []float64)
}

// Options configures a Study.
type Options struct {
	// Workers is the number of concurrent workers on this rank.
	Workers int
	// PoolCapacity bounds live rays; it must be at least 2·Workers.
	PoolCapacity int
	PoolPolicy   pool.Policy
	// Schema is the payload and polar length every ray of the episode has.
	Schema wire.Schema

	// NewStepper builds the stepper of one worker.
	NewStepper func(worker int) Stepper
	// Resolver maps element ids of arriving rays to local elements.
	Resolver  wire.Resolver
	Transport comm.Transport

	// Recorder, if set, sees every outbound buffer.
	Recorder Recorder
	// OnFinish, if set, is called with every terminated ray before it is
	// released. It runs on worker goroutines and must not keep r.
	OnFinish func(r *ray.Ray)

	Logger *slog.Logger
}

// Angular is per-direction quadrature metadata for a seed.
type Angular struct {
	Angle        float64
	Spacing      float64
	Weight       float64
	PolarSpacing float64
	PolarSins    []float64
	PolarWeights []float64
}

// Seed describes a ray this rank starts.
type Seed struct {
	Start, End ray.Point
	// Data, if non-nil, is copied into the payload; otherwise the payload
	// is DataLen copies of Fill.
	Data    []float64
	DataLen int
	Fill    float64

	Elem ray.Elem
	Side uint32

	// Angular overrides the default quadrature metadata.
	Angular *Angular
	// ReverseElem, if set, also starts the reverse ray End→Start inside
	// this element, traced independently with its own id.
	ReverseElem ray.Elem
}

// Summary aggregates one rank's episode.
type Summary struct {
	Rank     int
	Started  uint64
	Reversed uint64
	Received uint64
	Sent     uint64
	Finished uint64
	// Crossings sums the processor crossings of the rays that finished here.
	Crossings uint64
	Duration  time.Duration
	Pool      pool.Stats
}

// Study is one rank's orchestrator. Run may be called once.
type Study struct {
	opts Options
	rank int
	pool *pool.Pool
	log  *slog.Logger

	seeds []Seed
	next  atomic.Int64
	seq   atomic.Uint64
	ran   atomic.Bool

	started, reversed, received, sent, finished, crossings atomic.Uint64

	metrics struct {
		started, reversed, received, sent, finished prometheus.Counter
	}
}

// New validates opts and creates a Study with its own pool.
func New(opts Options) (*Study, error) {
	switch {
	case opts.Transport == nil:
		return nil, fmt.Errorf("%w: no transport", ErrBadOptions)
	case opts.Resolver == nil:
		return nil, fmt.Errorf("%w: no resolver", ErrBadOptions)
	case opts.NewStepper == nil:
		return nil, fmt.Errorf("%w: no stepper factory", ErrBadOptions)
	case opts.Workers <= 0:
		return nil, fmt.Errorf("%w: %d workers", ErrBadOptions, opts.Workers)
	case opts.PoolCapacity < 2*opts.Workers:
		return nil, fmt.Errorf("%w: pool capacity %d below 2×%d workers", ErrBadOptions, opts.PoolCapacity, opts.Workers)
	}
	rank := opts.Transport.Rank()
	if rank < 0 || rank > constants.MaxRank {
		return nil, fmt.Errorf("%w: rank %d outside [0, %d]", ErrBadOptions, rank, constants.MaxRank)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Study{
		opts: opts,
		rank: rank,
		pool: pool.New(opts.PoolCapacity, opts.PoolPolicy),
		log:  opts.Logger.With(slog.Int("rank", rank)),
	}
	label := strconv.Itoa(rank)
	s.metrics.started = raysTotal.WithLabelValues(label, eventStarted)
	s.metrics.reversed = raysTotal.WithLabelValues(label, eventReversed)
	s.metrics.received = raysTotal.WithLabelValues(label, eventReceived)
	s.metrics.sent = raysTotal.WithLabelValues(label, eventSent)
	s.metrics.finished = raysTotal.WithLabelValues(label, eventFinished)
	return s, nil
}

// Rank is the rank this study runs on.
func (s *Study) Rank() int { return s.rank }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// EPISODE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Run traces seeds, and every ray other ranks hand over, until the episode
// is globally quiescent. Seeds are read, not retained past Run.
func (s *Study) Run(ctx context.Context, seeds []Seed) (Summary, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Summary{}, ErrAlreadyRun
	}
	tr := s.opts.Transport
	begin := time.Now()

	ctx, span := tracer.Start(ctx, "trace.Run",
		oteltrace.WithAttributes(
			attribute.Int("trace.rank", s.rank),
			attribute.Int("trace.workers", s.opts.Workers),
			attribute.Int("trace.seeds", len(seeds)),
		),
	)
	defer span.End()

	total, err := s.register(seeds)
	if err != nil {
		tr.Abort()
		tr.Ready()
		return s.fail(span, begin, err)
	}
	s.seeds = seeds
	tr.AddActive(total)
	tr.Ready()

	s.log.Info("episode started",
		slog.Int("seeds", len(seeds)),
		slog.Int("rays", total),
		slog.Int("workers", s.opts.Workers),
		slog.Int("pool_capacity", s.pool.Capacity()),
		slog.String("pool_policy", s.pool.Policy().String()),
	)

	var (
		mu    sync.Mutex
		cause error
	)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.opts.Workers; w++ {
		g.Go(func() error {
			err := s.work(gctx, w)
			if err == nil {
				return nil
			}
			// knock-on failures must not mask the worker that failed first
			if !errors.Is(err, ErrAborted) && (ctx.Err() != nil || !errors.Is(err, context.Canceled)) {
				mu.Lock()
				if cause == nil {
					cause = err
				}
				mu.Unlock()
			}
			tr.Abort()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if cause != nil {
			err = cause
		}
		return s.fail(span, begin, err)
	}

	sum := s.summary(begin)
	episodeDuration.WithLabelValues(strconv.Itoa(s.rank)).Observe(sum.Duration.Seconds())
	span.SetAttributes(
		attribute.Int64("trace.finished", int64(sum.Finished)),
		attribute.Int64("trace.crossings", int64(sum.Crossings)),
	)
	span.SetStatus(codes.Ok, "")
	s.log.Info("episode finished",
		slog.Duration("duration", sum.Duration),
		slog.Uint64("started", sum.Started),
		slog.Uint64("received", sum.Received),
		slog.Uint64("sent", sum.Sent),
		slog.Uint64("finished", sum.Finished),
	)
	return sum, nil
}

// register validates every seed and counts the rays they start.
func (s *Study) register(seeds []Seed) (int, error) {
	total := 0
	for i := range seeds {
		if err := s.validate(&seeds[i]); err != nil {
			return 0, &EpisodeError{Rank: s.rank, Op: OpSeed, Err: fmt.Errorf("seed %d: %w", i, err)}
		}
		total++
		if seeds[i].ReverseElem != nil {
			total++
		}
	}
	if uint64(total) > constants.MaxSequence {
		return 0, &EpisodeError{Rank: s.rank, Op: OpSeed, Err: ErrIDSpace}
	}
	return total, nil
}

func (s *Study) validate(sd *Seed) error {
	n := sd.DataLen
	if sd.Data != nil {
		n = len(sd.Data)
	}
	if n < 0 {
		return fmt.Errorf("%w: negative payload length", ErrBadSeed)
	}
	if want := s.opts.Schema.DataLen; want != wire.Any && n != want {
		return fmt.Errorf("%w: payload length %d, episode uses %d", ErrBadSeed, n, want)
	}
	if sd.Elem == nil {
		return fmt.Errorf("%w: no starting element", ErrBadSeed)
	}
	polar := 0
	if a := sd.Angular; a != nil {
		if len(a.PolarSins) != len(a.PolarWeights) {
			return fmt.Errorf("%w: %w", ErrBadSeed, ray.ErrPolarLength)
		}
		polar = len(a.PolarSins)
	}
	if want := s.opts.Schema.PolarLen; want != wire.Any && polar != want {
		return fmt.Errorf("%w: %d polar directions, episode uses %d", ErrBadSeed, polar, want)
	}
	return nil
}

func (s *Study) fail(span oteltrace.Span, begin time.Time, err error) (Summary, error) {
	op := "run"
	var ee *EpisodeError
	if errors.As(err, &ee) {
		op = ee.Op
	}
	episodeErrors.WithLabelValues(strconv.Itoa(s.rank), op).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.log.Error("episode failed", slog.String("op", op), slog.Any("error", err))
	return s.summary(begin), err
}

func (s *Study) summary(begin time.Time) Summary {
	return Summary{
		Rank:      s.rank,
		Started:   s.started.Load(),
		Reversed:  s.reversed.Load(),
		Received:  s.received.Load(),
		Sent:      s.sent.Load(),
		Finished:  s.finished.Load(),
		Crossings: s.crossings.Load(),
		Duration:  time.Since(begin),
		Pool:      s.pool.Stats(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// WORKERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type worker struct {
	s       *Study
	id      int
	stepper Stepper
	dec     *wire.Decoder
	out     []float64
}

func (s *Study) work(ctx context.Context, id int) error {
	w := &worker{
		s:       s,
		id:      id,
		stepper: s.opts.NewStepper(id),
		dec:     wire.NewDecoder(s.opts.Resolver, s.opts.Schema),
	}
	tr := s.opts.Transport

	for {
		if err := ctx.Err(); err != nil {
			return &EpisodeError{Rank: s.rank, Op: OpWait, Err: err}
		}
		if tr.Aborted() {
			return &EpisodeError{Rank: s.rank, Op: OpWait, Err: ErrAborted}
		}

		if m, ok := tr.Poll(); ok {
			err := w.receive(ctx, m)
			tr.Release(m)
			if err != nil {
				return err
			}
			continue
		}

		if i := s.next.Add(1) - 1; i < int64(len(s.seeds)) {
			if err := w.seed(ctx, &s.seeds[i]); err != nil {
				return err
			}
			continue
		}

		if tr.Quiescent() {
			return nil
		}
		if tr.Hot() {
			runtime.Gosched()
		} else {
			time.Sleep(constants.IdlePark * time.Microsecond)
		}
	}
}

// seed starts the forward ray of sd, and its reverse if requested.
func (w *worker) seed(ctx context.Context, sd *Seed) error {
	s := w.s
	h, r, err := s.pool.Acquire(ctx)
	if err != nil {
		return &EpisodeError{Rank: s.rank, Op: OpAcquire, Err: err}
	}
	if sd.Data != nil {
		r.ResetWithData(sd.Start, sd.End, sd.Data, sd.Elem, sd.Side)
	} else {
		r.Reset(sd.Start, sd.End, sd.DataLen, sd.Fill, sd.Elem, sd.Side)
	}
	if a := sd.Angular; a != nil {
		r.SetAzimuthalAngle(a.Angle)
		r.SetAzimuthalSpacing(a.Spacing)
		r.SetAzimuthalWeight(a.Weight)
		r.SetPolarSpacing(a.PolarSpacing)
		if err := r.SetPolar(a.PolarSins, a.PolarWeights); err != nil {
			return w.fault(h, r, OpSeed, err)
		}
	}
	r.SetID(w.nextID())
	s.started.Add(1)
	s.metrics.started.Inc()

	if sd.ReverseElem != nil {
		rh, rev, err := s.pool.Acquire(ctx)
		if err != nil {
			return w.fault(h, r, OpAcquire, err)
		}
		r.ReverseInto(rev)
		rev.SetStartingElem(sd.ReverseElem)
		rev.SetIncomingSide(constants.InvalidSide)
		rev.SetID(w.nextID())
		s.reversed.Add(1)
		s.metrics.reversed.Inc()
		if err := w.trace(ctx, rh, rev); err != nil {
			_ = s.pool.Release(h)
			return err
		}
	}
	return w.trace(ctx, h, r)
}

// receive unpacks every ray in an inbound buffer and traces it.
func (w *worker) receive(ctx context.Context, m comm.Message) error {
	s := w.s
	return wire.Split(m.Scalars, func(rec []float64) error {
		h, r, err := s.pool.Acquire(ctx)
		if err != nil {
			return &EpisodeError{Rank: s.rank, Op: OpAcquire, Err: err}
		}
		if _, err := w.dec.Unpack(rec, r); err != nil {
			_ = s.pool.Release(h)
			ee := &EpisodeError{Rank: s.rank, Op: OpReceive, Err: fmt.Errorf("from rank %d: %w", m.From, err)}
			var de *wire.DecodeError
			if errors.As(err, &de) && de.HasID {
				ee.RayID, ee.HasID = de.RayID, true
			}
			return ee
		}
		s.received.Add(1)
		s.metrics.received.Inc()
		return w.trace(ctx, h, r)
	})
}

// trace steps r until it terminates or leaves the rank, then releases it.
func (w *worker) trace(ctx context.Context, h pool.Handle, r *ray.Ray) error {
	s := w.s
	for r.ShouldContinue() {
		st, err := w.stepper.Step(r)
		if err != nil {
			return w.fault(h, r, OpStep, err)
		}
		switch {
		case st.Kind == Terminated:
			return w.finish(h, r)
		case st.Kind == Continued, st.Owner == s.rank:
			// still local
		case !r.ShouldContinue():
			// a crossing on a ray that is already done ends it here
			return w.finish(h, r)
		default:
			return w.handOff(ctx, h, r, st.Owner)
		}
	}
	return w.finish(h, r)
}

func (w *worker) handOff(ctx context.Context, h pool.Handle, r *ray.Ray, dest int) error {
	s := w.s
	r.AddProcessorCrossing()

	var err error
	if w.out, err = wire.Pack(w.out[:0], r); err != nil {
		return w.fault(h, r, OpPack, err)
	}
	id := r.ID()
	if err := s.pool.Release(h); err != nil {
		return &EpisodeError{Rank: s.rank, RayID: id, HasID: true, Op: OpRelease, Err: err}
	}
	if err := s.opts.Transport.Send(ctx, dest, w.out); err != nil {
		return &EpisodeError{Rank: s.rank, RayID: id, HasID: true, Op: OpSend, Err: err}
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.Crossing(s.rank, dest, w.out)
	}
	s.sent.Add(1)
	s.metrics.sent.Inc()
	return nil
}

func (w *worker) finish(h pool.Handle, r *ray.Ray) error {
	s := w.s
	if s.opts.OnFinish != nil {
		s.opts.OnFinish(r)
	}
	s.finished.Add(1)
	s.crossings.Add(r.ProcessorCrossings())
	s.metrics.finished.Inc()
	id := r.ID()
	if err := s.pool.Release(h); err != nil {
		return &EpisodeError{Rank: s.rank, RayID: id, HasID: true, Op: OpRelease, Err: err}
	}
	s.opts.Transport.Finish(1)
	return nil
}

// fault builds the episode error for r and releases it.
func (w *worker) fault(h pool.Handle, r *ray.Ray, op string, err error) error {
	ee := &EpisodeError{Rank: w.s.rank, RayID: r.ID(), HasID: r.HasID(), Op: op, Err: err}
	_ = w.s.pool.Release(h)
	return ee
}

// nextID hands out this rank's next ray id.
func (w *worker) nextID() uint64 {
	return RayID(w.s.rank, w.s.seq.Add(1)-1)
}
