// ════════════════════════════════════════════════════════════════════════════════════════════════
// Crossing Recorder
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: SQLite Capture Of Packed Crossings
//
// Description:
//   Recorder stores every buffer an episode hands across a rank boundary, together with its
//   SHA3-256 digest, so later builds can be checked against a known-good run. Workers only copy
//   the buffer into a staging ring; a single writer goroutine drains the ring and commits rows in
//   batched transactions.
//
// Storage:
//   - episodes:  one row per recorded run, keyed by a random UUID
//   - crossings: (episode, seq) → from_rank, to_rank, little-endian scalar frame, digest
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"raytrace/constants"
	"raytrace/ring"
	"raytrace/wire"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const writerIdle = 200 * time.Microsecond // writer park when the ring is empty

// ErrClosed reports use of a closed Recorder.
var ErrClosed = errors.New("record: recorder closed")

// Options configures a Recorder.
type Options struct {
	Path    string // sqlite file
	Label   string // free-form tag stored on the episode row
	Ranks   int
	Batch   int // rows per transaction, constants.RecordBatch when zero
	Staging int // staging ring size, power of two, constants.DefaultRecordQueue when zero
	Logger  *slog.Logger
}

type entry struct {
	seq      uint64
	from, to int
	scalars  []float64
}

// Recorder captures crossings for one episode. Crossing is safe for
// concurrent use; Close must not race with it.
type Recorder struct {
	db      *sql.DB
	episode uuid.UUID
	log     *slog.Logger
	batch   int

	staging *ring.Ring[entry]
	stop    context.CancelFunc
	done    chan struct{}

	seq     atomic.Uint64
	dropped atomic.Uint64
	stored  atomic.Uint64
	closed  atomic.Bool

	mu      sync.Mutex
	err     error
	pending []entry
	frame   []byte
}

// Open creates (or extends) the database at opts.Path and starts a new
// episode in it.
func Open(ctx context.Context, opts Options) (*Recorder, error) {
	if opts.Path == "" {
		return nil, errors.New("record: empty path")
	}
	if opts.Batch <= 0 {
		opts.Batch = constants.RecordBatch
	}
	if opts.Staging == 0 {
		opts.Staging = constants.DefaultRecordQueue
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", opts.Path, err)
	}
	// one writer; sqlite serialises anyway
	db.SetMaxOpenConns(1)

	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	id := uuid.New()
	_, err = db.ExecContext(ctx,
		`INSERT INTO episodes (id, label, ranks, started_at) VALUES (?, ?, ?, ?)`,
		id.String(), opts.Label, opts.Ranks, time.Now().UnixNano())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("record: create episode: %w", err)
	}

	wctx, stop := context.WithCancel(context.Background())
	r := &Recorder{
		db:      db,
		episode: id,
		log:     opts.Logger.With("episode", id.String()),
		batch:   opts.Batch,
		staging: ring.New[entry](opts.Staging),
		stop:    stop,
		done:    make(chan struct{}),
		pending: make([]entry, 0, opts.Batch),
	}
	go r.write(wctx)
	return r, nil
}

// Episode is the id of the episode being recorded.
func (r *Recorder) Episode() uuid.UUID { return r.episode }

// Dropped counts crossings lost because the recorder was closed or failed.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Stored counts committed crossings.
func (r *Recorder) Stored() uint64 { return r.stored.Load() }

// Crossing stages a copy of scalars. It waits for room in the staging
// ring rather than dropping.
func (r *Recorder) Crossing(from, to int, scalars []float64) {
	if r.closed.Load() || r.failed() {
		r.dropped.Add(1)
		return
	}
	e := entry{seq: r.seq.Add(1) - 1, from: from, to: to, scalars: slices.Clone(scalars)}
	for !r.staging.Push(e) {
		select {
		case <-r.done:
			r.dropped.Add(1)
			return
		default:
		}
		time.Sleep(writerIdle)
	}
}

// Close flushes every staged crossing, stamps the episode row and closes
// the database. It returns the first write error, if any.
func (r *Recorder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	r.stop()
	<-r.done

	r.mu.Lock()
	err := r.err
	r.mu.Unlock()

	_, uerr := r.db.Exec(
		`UPDATE episodes SET finished_at = ?, crossings = ?, dropped = ? WHERE id = ?`,
		time.Now().UnixNano(), r.stored.Load(), r.dropped.Load(), r.episode.String())
	if uerr != nil {
		uerr = fmt.Errorf("record: finish episode: %w", uerr)
	}
	r.log.Info("recording closed", "stored", r.stored.Load(), "dropped", r.dropped.Load())
	return errors.Join(err, uerr, r.db.Close())
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// WRITER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (r *Recorder) write(ctx context.Context) {
	defer close(r.done)
	ring.Consume(ctx, r.staging, writerIdle, func(e entry) {
		r.pending = append(r.pending, e)
		if len(r.pending) >= r.batch {
			r.flush()
		}
	})
	r.flush()
}

// flush commits pending rows in one transaction. After the first failure
// further rows are counted as dropped.
func (r *Recorder) flush() {
	if len(r.pending) == 0 {
		return
	}
	n := len(r.pending)
	defer func() { r.pending = r.pending[:0] }()

	if r.failed() {
		r.dropped.Add(uint64(n))
		return
	}
	if err := r.commit(r.pending); err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		r.dropped.Add(uint64(n))
		r.log.Error("crossing batch lost", "rows", n, "error", err)
		return
	}
	r.stored.Add(uint64(n))
}

func (r *Recorder) commit(rows []entry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("record: begin: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO crossings (episode, seq, from_rank, to_rank, scalars, digest) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("record: prepare: %w", err)
	}
	defer stmt.Close()

	ep := r.episode.String()
	for _, e := range rows {
		r.frame = wire.AppendBytes(r.frame[:0], e.scalars)
		sum := wire.Digest(e.scalars)
		if _, err := stmt.Exec(ep, e.seq, e.from, e.to, r.frame, sum[:]); err != nil {
			tx.Rollback()
			return fmt.Errorf("record: insert seq %d: %w", e.seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record: commit: %w", err)
	}
	return nil
}

func (r *Recorder) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SCHEMA
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func configure(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("record: %s: %w", p, err)
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id          TEXT PRIMARY KEY,
		label       TEXT NOT NULL,
		ranks       INTEGER NOT NULL,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER,
		crossings   INTEGER NOT NULL DEFAULT 0,
		dropped     INTEGER NOT NULL DEFAULT 0
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS crossings (
		episode   TEXT NOT NULL,
		seq       INTEGER NOT NULL,
		from_rank INTEGER NOT NULL,
		to_rank   INTEGER NOT NULL,
		scalars   BLOB NOT NULL,
		digest    BLOB NOT NULL,
		PRIMARY KEY (episode, seq)
	) WITHOUT ROWID;
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("record: schema: %w", err)
	}
	return nil
}
