package trace

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted reports an episode abandoned because another rank failed.
	ErrAborted = errors.New("trace: episode aborted by another rank")
	// ErrAlreadyRun reports a second Run on the same Study.
	ErrAlreadyRun = errors.New("trace: study already ran")
	// ErrBadSeed reports a seed that cannot start a ray.
	ErrBadSeed = errors.New("trace: invalid seed")
	// ErrBadOptions reports an unusable Study configuration.
	ErrBadOptions = errors.New("trace: invalid options")
	// ErrIDSpace reports a rank that ran out of ray ids.
	ErrIDSpace = errors.New("trace: ray id space exhausted")
)

// Operations named in EpisodeError.
const (
	OpSeed    = "seed"
	OpReceive = "receive"
	OpStep    = "step"
	OpPack    = "pack"
	OpSend    = "send"
	OpAcquire = "acquire"
	OpRelease = "release"
	OpWait    = "wait"
)

// EpisodeError is a failure that ended an episode on one rank.
type EpisodeError struct {
	Rank  int
	RayID uint64
	HasID bool
	Op    string
	Err   error
}

func (e *EpisodeError) Error() string {
	if e.HasID {
		return fmt.Sprintf("trace: rank %d: %s ray %d: %v", e.Rank, e.Op, e.RayID, e.Err)
	}
	return fmt.Sprintf("trace: rank %d: %s: %v", e.Rank, e.Op, e.Err)
}

func (e *EpisodeError) Unwrap() error { return e.Err }
