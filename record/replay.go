package record

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"raytrace/constants"
	"raytrace/ray"
	"raytrace/wire"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrNoEpisode reports an episode id absent from the store.
	ErrNoEpisode = errors.New("record: no such episode")
	// ErrDigest reports a stored frame whose digest no longer matches.
	ErrDigest = errors.New("record: digest mismatch")
	// ErrMisrouted reports a record whose starting element is not owned by
	// the rank it was sent to.
	ErrMisrouted = errors.New("record: crossing sent to the wrong rank")
)

// Episode is one recorded run.
type Episode struct {
	ID         uuid.UUID
	Label      string
	Ranks      int
	StartedAt  time.Time
	FinishedAt time.Time // zero if the recorder never closed
	Crossings  int64
	Dropped    int64
}

// Crossing is one stored buffer.
type Crossing struct {
	Seq     uint64
	From    int
	To      int
	Scalars []float64
	Digest  [32]byte
}

// CrossingError locates a verification failure.
type CrossingError struct {
	Seq uint64
	Err error
}

func (e *CrossingError) Error() string {
	return fmt.Sprintf("record: crossing %d: %v", e.Seq, e.Err)
}

func (e *CrossingError) Unwrap() error { return e.Err }

// Store reads recorded episodes.
type Store struct {
	db *sql.DB
}

// OpenStore opens an existing recording. Store only reads.
func OpenStore(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const episodeCols = `id, label, ranks, started_at, COALESCE(finished_at, 0), crossings, dropped`

// Episodes lists every episode, oldest first.
func (s *Store) Episodes(ctx context.Context) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+episodeCols+` FROM episodes ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("record: list episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Episode loads one episode.
func (s *Store) Episode(ctx context.Context, id uuid.UUID) (Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeCols+` FROM episodes WHERE id = ?`, id.String())
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, fmt.Errorf("%w: %s", ErrNoEpisode, id)
	}
	return ep, err
}

// Latest loads the most recently started episode.
func (s *Store) Latest(ctx context.Context) (Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeCols+` FROM episodes ORDER BY started_at DESC LIMIT 1`)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, ErrNoEpisode
	}
	return ep, err
}

type scanner interface{ Scan(dest ...any) error }

func scanEpisode(sc scanner) (Episode, error) {
	var (
		ep                Episode
		id                string
		started, finished int64
	)
	if err := sc.Scan(&id, &ep.Label, &ep.Ranks, &started, &finished, &ep.Crossings, &ep.Dropped); err != nil {
		return Episode{}, err
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return Episode{}, fmt.Errorf("record: episode id %q: %w", id, err)
	}
	ep.ID = u
	ep.StartedAt = time.Unix(0, started)
	if finished != 0 {
		ep.FinishedAt = time.Unix(0, finished)
	}
	return ep, nil
}

// Crossings calls fn with every crossing of an episode in seq order. The
// digest is checked before fn sees the crossing. Scalars is reused between
// calls.
func (s *Store) Crossings(ctx context.Context, id uuid.UUID, fn func(Crossing) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, from_rank, to_rank, scalars, digest FROM crossings WHERE episode = ? ORDER BY seq`,
		id.String())
	if err != nil {
		return fmt.Errorf("record: query crossings: %w", err)
	}
	defer rows.Close()

	var (
		c      Crossing
		frame  []byte
		digest []byte
	)
	for rows.Next() {
		if err := rows.Scan(&c.Seq, &c.From, &c.To, &frame, &digest); err != nil {
			return fmt.Errorf("record: scan crossing: %w", err)
		}
		if c.Scalars, err = wire.DecodeBytes(c.Scalars[:0], frame); err != nil {
			return &CrossingError{Seq: c.Seq, Err: err}
		}
		c.Digest = wire.Digest(c.Scalars)
		if !bytes.Equal(c.Digest[:], digest) {
			return &CrossingError{Seq: c.Seq, Err: ErrDigest}
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// VERIFICATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Report summarises a verified episode.
type Report struct {
	Episode   Episode
	Crossings int
	Rays      int
	Scalars   int
	// Fingerprint hashes every crossing digest in seq order. Two runs that
	// made the same crossings in the same order share it.
	Fingerprint [32]byte
}

// Verify re-reads an episode, checking every digest and decoding every
// packed ray with dec. When owner is set, each ray's starting element must
// be owned by the rank the buffer was sent to.
func (s *Store) Verify(ctx context.Context, id uuid.UUID, dec *wire.Decoder, owner func(ray.ElemID) int) (Report, error) {
	ep, err := s.Episode(ctx, id)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Episode: ep}
	h := sha3.New256()
	scratch := ray.New(ray.Point{}, ray.Point{}, 0, nil, constants.InvalidSide)

	err = s.Crossings(ctx, id, func(c Crossing) error {
		h.Write(c.Digest[:])
		rep.Crossings++
		rep.Scalars += len(c.Scalars)
		err := wire.Split(c.Scalars, func(rec []float64) error {
			if _, err := dec.Unpack(rec, scratch); err != nil {
				return err
			}
			if owner != nil && owner(scratch.StartingElem().ID()) != c.To {
				return ErrMisrouted
			}
			rep.Rays++
			return nil
		})
		if err != nil {
			return &CrossingError{Seq: c.Seq, Err: err}
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	h.Sum(rep.Fingerprint[:0])
	return rep, nil
}
