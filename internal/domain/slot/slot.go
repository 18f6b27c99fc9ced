// Package slot offers delivery and pickup time windows and validates a chosen
// window against the current clock.
package slot

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// DateLayout is the wire format of a slot date.
const DateLayout = "2006-01-02"

var (
	// ErrMalformedDate is returned for a date not in DateLayout.
	ErrMalformedDate = errors.New("malformed slot date")
	// ErrUnknownWindow is returned for a window label that is not offered.
	ErrUnknownWindow = errors.New("unknown time window")
	// ErrDateInPast is returned for a date before today.
	ErrDateInPast = errors.New("slot date is in the past")
	// ErrBeyondHorizon is returned for a date past the booking horizon.
	ErrBeyondHorizon = errors.New("slot date is beyond the booking horizon")
	// ErrWindowClosed is returned for a window today that starts too soon.
	ErrWindowClosed = errors.New("time window is no longer available")
)

// Window is a labeled time-of-day range. Start and End are offsets from
// local midnight.
type Window struct {
	Label string
	Start time.Duration
	End   time.Duration
}

// NewWindow builds a window from whole hours and labels it "HH:MM-HH:MM".
func NewWindow(startHour, endHour int) Window {
	return Window{
		Label: fmt.Sprintf("%02d:00-%02d:00", startHour, endHour),
		Start: time.Duration(startHour) * time.Hour,
		End:   time.Duration(endHour) * time.Hour,
	}
}

// DefaultWindows are the windows offered every day.
var DefaultWindows = []Window{
	NewWindow(10, 12),
	NewWindow(12, 14),
	NewWindow(14, 16),
	NewWindow(16, 18),
	NewWindow(18, 20),
}

// Selection is a chosen date and window.
type Selection struct {
	Date   string `json:"date"`
	Window string `json:"window"`
}

func (s Selection) String() string {
	return s.Date + " " + s.Window
}

// WindowOption is a window as offered on a specific date.
type WindowOption struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
}

// DateOption is a date offered for booking.
type DateOption struct {
	Date    string         `json:"date"`
	Weekday string         `json:"weekday"`
	IsToday bool           `json:"is_today"`
	Windows []WindowOption `json:"windows"`
}
