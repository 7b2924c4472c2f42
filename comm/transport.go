// ════════════════════════════════════════════════════════════════════════════════════════════════
// Rank Transport
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Inter-Rank Buffer Exchange
//
// Description:
//   A Transport moves packed scalar buffers between ranks and exposes the episode's termination
//   tracker. Buffers are opaque here; the wire package gives them meaning. Sends are safe from
//   any number of workers, and so are polls.
//
// Ownership:
//   - Send copies the caller's scalars; the caller keeps its buffer
//   - Poll hands over a Message whose buffer belongs to the transport; Release returns it
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package comm

import (
	"context"
	"errors"
	"fmt"
)

// ErrBadRank reports a destination outside [0, Size).
var ErrBadRank = errors.New("comm: destination rank out of range")

// Message is one received buffer.
type Message struct {
	From    int
	Scalars []float64

	buf *[]float64
}

// Transport is everything a traversal rank needs from its communicator.
type Transport interface {
	Rank() int
	Size() int

	// Send delivers a copy of scalars to dest, waiting for mailbox room.
	Send(ctx context.Context, dest int, scalars []float64) error
	// Poll returns the next inbound buffer, if any.
	Poll() (Message, bool)
	// Release hands a polled buffer back for reuse.
	Release(m Message)

	// AddActive registers new rays with the episode.
	AddActive(n int)
	// Finish retires terminated rays.
	Finish(n int)
	// Ready reports this rank has registered all its seeds.
	Ready()
	// Quiescent reports global termination.
	Quiescent() bool
	// Hot reports recent hand-off activity; idle workers may park when false.
	Hot() bool

	// Abort asks every rank to abandon the episode.
	Abort()
	// Aborted reports whether any rank aborted.
	Aborted() bool
}

// RankError wraps a failure to reach a peer.
type RankError struct {
	From, To int
	Err      error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("comm: rank %d -> %d: %v", e.From, e.To, e.Err)
}

func (e *RankError) Unwrap() error { return e.Err }
