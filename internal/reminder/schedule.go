// Package reminder plans the interim notifications sent while a task window
// is running.
package reminder

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// Reminders are drawn from [windowStart, windowEnd] of the task window so
	// nothing lands right after the start message or right before the outcome
	// prompt.
	windowStart = 0.15
	windowEnd   = 0.85
)

// Policy decides how many reminders a window gets.
//
// A window no longer than MinWindow gets none. Longer windows get
// floor(d/Step)+1 reminders, bounded by Cap.
type Policy struct {
	Cap       int
	MinWindow time.Duration
	Step      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Cap:       4,
		MinWindow: 30 * time.Minute,
		Step:      150 * time.Minute,
	}
}

// Count returns the number of reminders for a window of length d.
func (p Policy) Count(d time.Duration) int {
	if p.Cap <= 0 || d <= p.MinWindow || p.Step <= 0 {
		return 0
	}
	n := int(d/p.Step) + 1
	if n > p.Cap {
		n = p.Cap
	}
	return n
}

// Scheduler turns a window length into reminder offsets. It performs no
// timing itself.
type Scheduler struct {
	policy Policy

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScheduler returns a Scheduler drawing from src. A nil src uses a
// randomly seeded PCG source.
func NewScheduler(policy Policy, src rand.Source) *Scheduler {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Scheduler{policy: policy, rng: rand.New(src)}
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Offsets returns Count(d) strictly increasing offsets, each strictly inside
// (0.15·d, 0.85·d). The band is cut into equal segments and one offset is
// drawn uniformly from the interior of each segment.
func (s *Scheduler) Offsets(d time.Duration) []time.Duration {
	n := s.policy.Count(d)
	if n == 0 {
		return nil
	}
	lo := float64(d) * windowStart
	span := float64(d) * (windowEnd - windowStart) / float64(n)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		segLo := time.Duration(lo + span*float64(i))
		segHi := time.Duration(lo + span*float64(i+1))
		if i == n-1 {
			segHi = time.Duration(float64(d) * windowEnd)
		}
		if segHi-segLo < 2 {
			// Too narrow to hold an interior point; only happens for windows
			// of a few nanoseconds.
			return nil
		}
		off := segLo + time.Duration(s.rng.Float64()*float64(segHi-segLo))
		if off <= segLo {
			off = segLo + 1
		}
		if off >= segHi {
			off = segHi - 1
		}
		out = append(out, off)
	}
	return out
}
