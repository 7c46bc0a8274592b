package promo

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimezone is the reference zone used when none is configured.
const DefaultTimezone = "Asia/Kolkata"

// Window is a daily recurring interval during which promotional pricing applies.
// StartHour is inclusive, EndHour exclusive. When StartHour > EndHour the window
// wraps past midnight (e.g. 18:00-09:00).
type Window struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// NewWindow builds a window in the named timezone. A zone that cannot be loaded
// falls back to the local system zone; pricing must never hard-fail on it.
func NewWindow(startHour, endHour int, tz string, logger *zerolog.Logger) Window {
	return Window{
		StartHour: startHour,
		EndHour:   endHour,
		Location:  LoadLocation(tz, logger),
	}
}

// LoadLocation resolves tz, falling back to time.Local on failure.
func LoadLocation(tz string, logger *zerolog.Logger) *time.Location {
	name := strings.TrimSpace(tz)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("timezone", name).Msg("promo timezone unavailable, using local time")
		}
		return time.Local
	}
	return loc
}

// Contains reports whether hour falls inside the window.
func (w Window) Contains(hour int) bool {
	switch {
	case w.StartHour > w.EndHour:
		return hour >= w.StartHour || hour < w.EndHour
	case w.StartHour < w.EndHour:
		return hour >= w.StartHour && hour < w.EndHour
	default:
		return false
	}
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// HourOf returns the hour of now in the window's reference zone.
func (w Window) HourOf(now time.Time) int {
	return now.In(w.location()).Hour()
}

// IsActive reports whether the promo window is open at now. A non-nil override
// in 0..23 replaces the wall-clock hour.
func IsActive(now time.Time, w Window, override *int) bool {
	return w.Contains(effectiveHour(now, w, override))
}

func effectiveHour(now time.Time, w Window, override *int) int {
	if validHour(override) {
		return *override
	}
	return w.HourOf(now)
}

func validHour(h *int) bool {
	return h != nil && *h >= 0 && *h <= 23
}

// NextBoundary returns the first instant strictly after now at which the window
// opens or closes. It returns the zero time for an empty window.
func (w Window) NextBoundary(now time.Time) time.Time {
	if w.StartHour == w.EndHour {
		return time.Time{}
	}
	loc := w.location()
	local := now.In(loc)
	var next time.Time
	for _, h := range []int{w.StartHour, w.EndHour} {
		candidate := time.Date(local.Year(), local.Month(), local.Day(), h, 0, 0, 0, loc)
		if !candidate.After(local) {
			candidate = time.Date(local.Year(), local.Month(), local.Day()+1, h, 0, 0, 0, loc)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}
