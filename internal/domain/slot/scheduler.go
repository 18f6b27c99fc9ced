package slot

import (
	"time"

	"github.com/go-faster/errors"
)

// Config configures a Scheduler.
type Config struct {
	Windows     []Window
	HorizonDays int
	Buffer      time.Duration
	Location    *time.Location
}

// Scheduler lists bookable dates and validates selections. It holds no
// mutable state; the caller always passes the current time.
type Scheduler struct {
	windows     []Window
	horizonDays int
	buffer      time.Duration
	loc         *time.Location
}

// NewScheduler returns a Scheduler. Zero fields fall back to the default
// windows, a 7 day horizon, a 30 minute buffer and UTC.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		windows:     cfg.Windows,
		horizonDays: cfg.HorizonDays,
		buffer:      cfg.Buffer,
		loc:         cfg.Location,
	}
	if len(s.windows) == 0 {
		s.windows = DefaultWindows
	}
	if s.horizonDays <= 0 {
		s.horizonDays = 7
	}
	if s.buffer <= 0 {
		s.buffer = 30 * time.Minute
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// Buffer returns the configured lead time.
func (s *Scheduler) Buffer() time.Duration { return s.buffer }

// HorizonDays returns the configured booking horizon.
func (s *Scheduler) HorizonDays() int { return s.horizonDays }

// ListValidDates returns horizonDays dates starting today. Today is listed
// only if at least one of its windows is still available; future dates are
// always listed with every window available.
func (s *Scheduler) ListValidDates(now time.Time, horizonDays int) []DateOption {
	if horizonDays <= 0 {
		horizonDays = s.horizonDays
	}
	now = now.In(s.loc)
	today := midnight(now)

	options := make([]DateOption, 0, horizonDays)
	for i := range horizonDays {
		date := today.AddDate(0, 0, i)
		isToday := i == 0

		opt := DateOption{
			Date:    date.Format(DateLayout),
			Weekday: date.Weekday().String(),
			IsToday: isToday,
			Windows: make([]WindowOption, len(s.windows)),
		}
		anyAvailable := false
		for j, w := range s.windows {
			available := !isToday || s.windowOpen(date, w, s.buffer, now)
			opt.Windows[j] = WindowOption{Label: w.Label, Available: available}
			anyAvailable = anyAvailable || available
		}

		if isToday && !anyAvailable {
			continue
		}
		options = append(options, opt)
	}
	return options
}

// IsSlotValid reports whether sel can still be booked at now with the given
// lead time.
func (s *Scheduler) IsSlotValid(sel Selection, buffer time.Duration, now time.Time) bool {
	return s.validate(sel, buffer, now) == nil
}

// Validate is IsSlotValid with the configured buffer, returning the reason a
// selection is rejected.
func (s *Scheduler) Validate(sel Selection, now time.Time) error {
	return s.validate(sel, s.buffer, now)
}

func (s *Scheduler) validate(sel Selection, buffer time.Duration, now time.Time) error {
	w, ok := s.window(sel.Window)
	if !ok {
		return errors.Wrapf(ErrUnknownWindow, "window %q", sel.Window)
	}

	date, err := time.ParseInLocation(DateLayout, sel.Date, s.loc)
	if err != nil {
		return errors.Wrapf(ErrMalformedDate, "date %q", sel.Date)
	}

	now = now.In(s.loc)
	today := midnight(now)
	switch {
	case date.Before(today):
		return ErrDateInPast
	case !date.Before(today.AddDate(0, 0, s.horizonDays)):
		return ErrBeyondHorizon
	case date.Equal(today) && !s.windowOpen(date, w, buffer, now):
		return errors.Wrapf(ErrWindowClosed, "window %s starts before %s",
			w.Label, now.Add(buffer).Format("15:04"))
	}
	return nil
}

// windowOpen reports whether w on date starts strictly after now + buffer.
func (s *Scheduler) windowOpen(date time.Time, w Window, buffer time.Duration, now time.Time) bool {
	start := atOffset(date, w.Start)
	return start.After(now.Add(buffer))
}

func (s *Scheduler) window(label string) (Window, bool) {
	for _, w := range s.windows {
		if w.Label == label {
			return w, true
		}
	}
	return Window{}, false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// atOffset returns the wall-clock time offset from midnight of date. Using
// time.Date keeps the result correct across DST changes.
func atOffset(date time.Time, offset time.Duration) time.Time {
	y, m, d := date.Date()
	h := int(offset / time.Hour)
	mins := int((offset % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, mins, 0, 0, date.Location())
}
