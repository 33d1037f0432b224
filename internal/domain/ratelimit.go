package domain

import "time"

// WindowType is the granularity of a rate-limit window.
type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
	WindowDay    WindowType = "day"
)

// Duration returns the length of one window unit.
func (w WindowType) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return time.Minute
}

// Floor truncates t to the start of the window containing it.
func (w WindowType) Floor(t time.Time) time.Time {
	return t.UTC().Truncate(w.Duration())
}

// WindowLimit pairs a window granularity with its request budget.
type WindowLimit struct {
	Window WindowType
	Limit  int
}

// AdmissionResult is the outcome of one rate-limit window check.
type AdmissionResult struct {
	Allowed   bool
	Window    WindowType
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, rounded up,
// never below 1.
func (r AdmissionResult) RetryAfter(now time.Time) int {
	secs := int((r.ResetAt.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
