package comm

import (
	"context"
	"fmt"

	"raytrace/control"
	"raytrace/ring"
)

type envelope struct {
	from int
	buf  *[]float64
}

// Hub connects size ranks living in one process. Every rank owns a bounded
// mailbox; all ranks share one termination tracker.
type Hub struct {
	mailboxes []*ring.Ring[envelope]
	endpoints []*Endpoint
	tracker   *control.Tracker
	buffers   *Buffers
}

// NewHub creates a hub of size ranks with mailboxCap slots per mailbox.
// mailboxCap must be a power of two.
func NewHub(size, mailboxCap int) *Hub {
	if size <= 0 {
		panic("comm: hub needs at least one rank")
	}
	h := &Hub{
		mailboxes: make([]*ring.Ring[envelope], size),
		endpoints: make([]*Endpoint, size),
		tracker:   control.NewTracker(size),
		buffers:   NewBuffers(),
	}
	for r := range h.mailboxes {
		h.mailboxes[r] = ring.New[envelope](mailboxCap)
		h.endpoints[r] = &Endpoint{hub: h, rank: r}
	}
	return h
}

// Endpoint returns the transport of one rank.
func (h *Hub) Endpoint(rank int) *Endpoint {
	return h.endpoints[rank]
}

// Tracker exposes the shared termination tracker.
func (h *Hub) Tracker() *control.Tracker { return h.tracker }

// Pending is the number of buffers queued for rank.
func (h *Hub) Pending(rank int) int { return h.mailboxes[rank].Len() }

// Endpoint is one rank's view of a Hub. It implements Transport.
type Endpoint struct {
	hub  *Hub
	rank int
}

var _ Transport = (*Endpoint)(nil)

func (e *Endpoint) Rank() int { return e.rank }
func (e *Endpoint) Size() int { return len(e.hub.mailboxes) }

func (e *Endpoint) Send(ctx context.Context, dest int, scalars []float64) error {
	if dest < 0 || dest >= len(e.hub.mailboxes) {
		return &RankError{From: e.rank, To: dest, Err: fmt.Errorf("%w: size %d", ErrBadRank, len(e.hub.mailboxes))}
	}
	buf := e.hub.buffers.Get(len(scalars))
	*buf = append(*buf, scalars...)

	e.hub.tracker.Sent(1)
	if err := ring.PushWait(ctx, e.hub.mailboxes[dest], envelope{from: e.rank, buf: buf}); err != nil {
		e.hub.tracker.Received(1)
		e.hub.buffers.Put(buf)
		return &RankError{From: e.rank, To: dest, Err: err}
	}
	return nil
}

func (e *Endpoint) Poll() (Message, bool) {
	env, ok := e.hub.mailboxes[e.rank].Pop()
	if !ok {
		return Message{}, false
	}
	e.hub.tracker.Received(1)
	return Message{From: env.from, Scalars: *env.buf, buf: env.buf}, true
}

func (e *Endpoint) Release(m Message) { e.hub.buffers.Put(m.buf) }

func (e *Endpoint) AddActive(n int) { e.hub.tracker.AddActive(n) }
func (e *Endpoint) Finish(n int)    { e.hub.tracker.Finish(n) }
func (e *Endpoint) Ready()          { e.hub.tracker.Ready() }
func (e *Endpoint) Quiescent() bool { return e.hub.tracker.Quiescent() }
func (e *Endpoint) Hot() bool       { return e.hub.tracker.Poll() }
func (e *Endpoint) Abort()          { e.hub.tracker.Stop() }
func (e *Endpoint) Aborted() bool   { return e.hub.tracker.Stopped() }
