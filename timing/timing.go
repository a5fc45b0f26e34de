// Package timing decides whether a step may start a new 24-hour epoch.
package timing

import (
	"fmt"

	"github.com/bitfsorg/feerouter-go/errs"
	"github.com/bitfsorg/feerouter-go/progress"
)

// EpochDuration is the minimum gap between two epoch starts, in seconds.
const EpochDuration int64 = 86400

// ErrCooldownNotElapsed indicates an epoch start attempted inside the cooldown.
var ErrCooldownNotElapsed = errs.ErrTiming.New("timing: 24-hour cooldown not elapsed")

// Decision is the outcome of Evaluate.
type Decision int

const (
	ContinueEpoch Decision = iota
	StartNewEpoch
	Blocked
)

func (d Decision) String() string {
	switch d {
	case ContinueEpoch:
		return "continue"
	case StartNewEpoch:
		return "start"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// CooldownError carries how long a blocked caller has to wait.
type CooldownError struct {
	LastEpochStart int64
	Now            int64
	RetryAfter     int64 // seconds
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrCooldownNotElapsed, e.RetryAfter)
}

func (e *CooldownError) Unwrap() error { return ErrCooldownNotElapsed }

// Verdict is a decision plus the blocking reason, if any.
type Verdict struct {
	Decision Decision
	Err      *CooldownError // set when Decision is Blocked
}

// Evaluate applies the epoch rules to s at time now. An open epoch always
// continues, however long ago it started.
func Evaluate(now int64, s *progress.State) Verdict {
	switch {
	case !s.Started():
		return Verdict{Decision: StartNewEpoch}
	case !s.EpochComplete:
		return Verdict{Decision: ContinueEpoch}
	case now >= NextEpochAt(s):
		return Verdict{Decision: StartNewEpoch}
	}
	return Verdict{
		Decision: Blocked,
		Err: &CooldownError{
			LastEpochStart: s.LastEpochStart,
			Now:            now,
			RetryAfter:     NextEpochAt(s) - now,
		},
	}
}

// NextEpochAt returns the earliest unix time a new epoch may start.
func NextEpochAt(s *progress.State) int64 {
	if !s.Started() {
		return 0
	}
	return s.LastEpochStart + EpochDuration
}

// TimeUntilNext returns the seconds left before a new epoch may start, 0 when
// one may start now.
func TimeUntilNext(now int64, s *progress.State) int64 {
	return max(NextEpochAt(s)-now, 0)
}

// Info is a monitoring snapshot of a stream's epoch timing.
type Info struct {
	Epoch          uint64
	LastEpochStart int64
	NextEpochAt    int64
	TimeUntilNext  int64
	Cursor         uint32
	InvestorCount  uint32
	EpochComplete  bool
	Decision       Decision
}

// Describe returns the timing snapshot of s at now.
func Describe(now int64, s *progress.State) Info {
	return Info{
		Epoch:          s.Epoch,
		LastEpochStart: s.LastEpochStart,
		NextEpochAt:    NextEpochAt(s),
		TimeUntilNext:  TimeUntilNext(now, s),
		Cursor:         s.Cursor,
		InvestorCount:  s.InvestorCount,
		EpochComplete:  s.EpochComplete,
		Decision:       Evaluate(now, s).Decision,
	}
}
