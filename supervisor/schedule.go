package supervisor

import "time"

// Schedule tracks the target time of the next sample cycle.
//
// The target advances by exactly one period per tick no matter how long the sleep
// actually took, so sleep overshoot does not accumulate. When a tick is already
// late the missed ticks are dropped and the schedule restarts from now.
type Schedule struct {
	period time.Duration
	target time.Time
}

// NewSchedule returns a schedule whose first target is now + period.
func NewSchedule(period time.Duration, now time.Time) *Schedule {
	return &Schedule{period: period, target: now.Add(period)}
}

// Period returns the cycle period.
func (s *Schedule) Period() time.Duration { return s.period }

// Target returns the next intended wake time.
func (s *Schedule) Target() time.Time { return s.target }

// Remaining returns target - now; negative when the tick is late.
func (s *Schedule) Remaining(now time.Time) time.Duration { return s.target.Sub(now) }

// Next returns how long to wait before the next cycle and advances the target.
// If now is at or past the target the tick is an overrun: wait is 0 and the
// target becomes now + period.
func (s *Schedule) Next(now time.Time) (wait time.Duration, overrun bool) {
	if !now.Before(s.target) {
		s.target = now.Add(s.period)
		return 0, true
	}

	wait = s.target.Sub(now)
	s.target = s.target.Add(s.period)

	return wait, false
}
