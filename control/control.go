// ════════════════════════════════════════════════════════════════════════════════════════════════
// Episode Activity Tracking
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Distributed Termination Detection
//
// Description:
//   A Tracker decides when a traversal episode is globally finished. It counts outstanding rays,
//   meaning seeded or spawned rays that have not yet terminated, wherever they currently are: in
//   a worker, in a send buffer or in a mailbox. Hand-offs between ranks move a ray without
//   changing the count, so the episode is quiescent exactly when every rank has finished
//   seeding and the count is zero. Once observed, quiescence is permanent.
//
// Activity:
//   Workers poll the tracker between work items. Each hand-off marks the tracker hot; after
//   ControlCooldownPolls idle polls it cools down and workers park between polls instead of
//   yield-spinning. Time is counted in polls, not wall clock, so no syscall sits on the loop.
//
// Shutdown:
//   Stop raises a flag every worker observes on its next poll. It is used when one rank fails and
//   the others must abandon the episode.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package control

import (
	"fmt"
	"sync/atomic"

	"raytrace/constants"
)

// Tracker is shared by every rank of one episode.
type Tracker struct {
	_           [constants.CacheLineSize]byte
	outstanding atomic.Int64 // rays not yet terminated
	_           [constants.CacheLineSize - 8]byte
	inTransit   atomic.Int64 // buffers handed off but not yet received
	_           [constants.CacheLineSize - 8]byte
	seeding     atomic.Int64 // ranks that have not called Ready
	lastActive  atomic.Uint64
	polls       atomic.Uint64
	stopped     atomic.Uint32
}

// NewTracker creates a tracker for ranks participants.
func NewTracker(ranks int) *Tracker {
	if ranks <= 0 {
		panic("control: tracker needs at least one rank")
	}
	t := &Tracker{}
	t.seeding.Store(int64(ranks))
	return t
}

// ============================================================================
// RAY ACCOUNTING
// ============================================================================

// AddActive registers n new rays. Seeds must be registered before the
// seeding rank calls Ready; spawned rays before their parent finishes.
func (t *Tracker) AddActive(n int) {
	if n < 0 {
		panic("control: negative ray registration")
	}
	t.outstanding.Add(int64(n))
}

// Finish retires n terminated rays.
func (t *Tracker) Finish(n int) {
	if v := t.outstanding.Add(-int64(n)); v < 0 {
		panic(fmt.Sprintf("control: %d rays finished more than registered", -v))
	}
}

// Sent records n buffers leaving a rank.
func (t *Tracker) Sent(n int) {
	t.inTransit.Add(int64(n))
	t.SignalActivity()
}

// Received records n buffers arriving at a rank.
func (t *Tracker) Received(n int) {
	t.inTransit.Add(-int64(n))
	t.SignalActivity()
}

// Ready marks one rank as done seeding.
func (t *Tracker) Ready() {
	if v := t.seeding.Add(-1); v < 0 {
		panic("control: Ready called more times than there are ranks")
	}
}

// Quiescent reports global termination: all ranks seeded and no ray alive.
func (t *Tracker) Quiescent() bool {
	return t.seeding.Load() == 0 && t.outstanding.Load() == 0
}

// Outstanding is the number of rays not yet terminated.
func (t *Tracker) Outstanding() int64 { return t.outstanding.Load() }

// InTransit is the number of buffers between ranks.
func (t *Tracker) InTransit() int64 { return t.inTransit.Load() }

// ============================================================================
// ACTIVITY SIGNALLING
// ============================================================================

// SignalActivity marks the tracker hot as of the current poll.
func (t *Tracker) SignalActivity() {
	t.lastActive.Store(t.polls.Load())
}

// Poll advances the tracker's virtual clock by one and reports whether
// work was seen within the cooldown window.
func (t *Tracker) Poll() (hot bool) {
	now := t.polls.Add(1)
	last := t.lastActive.Load()
	return last >= now || now-last <= constants.ControlCooldownPolls
}

// ============================================================================
// SHUTDOWN
// ============================================================================

// Stop asks every worker of the episode to give up.
func (t *Tracker) Stop() { t.stopped.Store(1) }

// Stopped reports whether Stop was called.
func (t *Tracker) Stopped() bool { return t.stopped.Load() != 0 }
