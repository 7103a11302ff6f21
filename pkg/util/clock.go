package util

import "time"

// Clock supplies wall-clock timestamps for trade records. Order identity
// never depends on it; ids come from the per-market sequencer.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
