// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Tracing-wide tunables and wire sentinels
//
// Purpose:
//   - Defines cache geometry, pool sizing defaults and mailbox capacities.
//   - Pins the fixed part of the packed-ray wire format.
//
// Notes:
//   - Wire constants are part of the interoperable format; changing any of
//     them breaks recorded trace data.
//   - Capacities that back rings must stay powers of two.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Cache Geometry ──────────────────────────────

const (
	// CacheLineSize is the padding unit used to keep pooled rays and ring
	// cursors on separate cache lines.
	CacheLineSize = 64
)

// ───────────────────────────── Wire Format ─────────────────────────────────

const (
	// WireHeaderLen is the number of fixed leading scalars in a packed ray:
	// three counts, two 3-scalar points, element id, ends-within-mesh,
	// incoming side, four counters, three angular scalars, id and two flags.
	// That is nineteen fields spread over twenty-two scalars.
	WireHeaderLen = 22

	// MaxExactInteger is the largest integer a float64 scalar carries exactly.
	// Ids, counts and counters above it cannot cross the wire.
	MaxExactInteger = 1 << 53

	// InvalidSide marks a ray that starts inside its element instead of
	// entering through one of its sides. It travels as 4294967295.
	InvalidSide = ^uint32(0)
)

// ───────────────────────────── Angular Defaults ────────────────────────────

const (
	// DefaultAzimuthalSpacing, DefaultAzimuthalWeight and DefaultPolarSpacing
	// are the neutral quadrature values a freshly reset ray carries.
	DefaultAzimuthalSpacing = 1.0
	DefaultAzimuthalWeight  = 1.0
	DefaultPolarSpacing     = 1.0
)

// ───────────────────────────── Ray Identity ────────────────────────────────

const (
	// RankShift positions the owner rank above the per-rank sequence inside a
	// ray id: id = rank<<RankShift | seq.
	RankShift = 40

	// MaxRank is the largest rank that still keeps ids under MaxExactInteger.
	MaxRank = (1 << (53 - RankShift)) - 1

	// MaxSequence bounds the per-rank sequence part of an id.
	MaxSequence = (1 << RankShift) - 1
)

// ───────────────────────────── Pool Sizing ─────────────────────────────────

const (
	// PoolPageShift sizes the pool's backing pages: 2^10 rays per page.
	// Pages never move, so slot addresses stay stable while the pool grows.
	PoolPageShift = 10
	PoolPageSize  = 1 << PoolPageShift
	PoolPageMask  = PoolPageSize - 1

	// MaxPoolCapacity is the hard ceiling on live rays per rank.
	MaxPoolCapacity = 1 << 16
)

// ───────────────────────────── Episode Control ─────────────────────────────

const (
	// ControlCooldownPolls is how many idle polls a tracker stays hot after
	// the last hand-off before workers start parking between polls.
	ControlCooldownPolls = 1 << 12

	// IdlePark is the worker park interval once a tracker has cooled down,
	// in microseconds.
	IdlePark = 100
)

// ───────────────────────────── Communication ───────────────────────────────

const (
	// DefaultMailboxCapacity is the per-rank inbound ring size.
	DefaultMailboxCapacity = 1 << 12

	// DefaultRecordQueue is the recorder's staging ring size.
	DefaultRecordQueue = 1 << 10

	// RecordBatch is the number of staged crossings written per sqlite
	// transaction.
	RecordBatch = 256

	// DefaultRecordPath is where the CLI stores recorded crossings.
	DefaultRecordPath = "crossings.db"
)
