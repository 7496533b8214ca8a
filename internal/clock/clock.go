package clock

import "time"

// Clock supplies the current instant. Production code uses SystemClock; tests use FakeClock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
