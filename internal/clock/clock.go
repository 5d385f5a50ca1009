package clock

import "time"

// Clock abstracts time for components that window or expire state.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall clock.
func System() Clock { return systemClock{} }
