package promo

import "time"

// Clock answers promo questions against an injected time source.
type Clock struct {
	Window   Window
	Override *int
	Now      func() time.Time
}

// NewClock constructs a clock reading the system time.
func NewClock(w Window, override *int) *Clock {
	return &Clock{Window: w, Override: override}
}

func (c *Clock) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Hour returns the effective hour, honouring the override.
func (c *Clock) Hour() int {
	return effectiveHour(c.now(), c.Window, c.Override)
}

// Active reports whether promotional pricing applies right now.
func (c *Clock) Active() bool {
	return IsActive(c.now(), c.Window, c.Override)
}

// NextBoundary returns the next instant the window opens or closes. An
// overridden clock never changes state and reports the zero time.
func (c *Clock) NextBoundary() time.Time {
	if c.Overridden() {
		return time.Time{}
	}
	return c.Window.NextBoundary(c.now())
}

// Overridden reports whether a fixed hour replaces the wall clock.
func (c *Clock) Overridden() bool {
	return c != nil && validHour(c.Override)
}
