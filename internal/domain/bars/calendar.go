package bars

import (
	"fmt"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Sessions assigns ticks to calendar dates. With an exchange MIC the
// exchange's timezone and holiday calendar are used; otherwise dates are
// cut in the configured timezone and every day counts.
type Sessions struct {
	loc *time.Location
	cal *calendar.Calendar
}

// UTCSessions cuts days at UTC midnight, the usual choice for crypto venues.
func UTCSessions() *Sessions {
	return &Sessions{loc: time.UTC}
}

// NewSessions resolves a session calendar from a timezone name and an
// optional ISO 10383 MIC (e.g. "xnys", "xcme").
func NewSessions(timezone, mic string) (*Sessions, error) {
	if mic = strings.ToLower(strings.TrimSpace(mic)); mic != "" {
		cal := calendar.GetCalendar(mic)
		if cal == nil {
			return nil, fmt.Errorf("unknown exchange calendar %q", mic)
		}
		loc := cal.Loc
		if loc == nil {
			loc = time.UTC
		}
		return &Sessions{loc: loc, cal: cal}, nil
	}

	if timezone == "" {
		return UTCSessions(), nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &Sessions{loc: loc}, nil
}

// Day returns the YYYY-MM-DD session date of ts. Lexical order of the
// returned keys is chronological order.
func (s *Sessions) Day(ts time.Time) string {
	return ts.In(s.loc).Format("2006-01-02")
}

// BusinessDay reports whether the exchange trades on the date of ts.
func (s *Sessions) BusinessDay(ts time.Time) bool {
	if s.cal == nil {
		return true
	}
	return s.cal.IsBusinessDay(ts.In(s.loc))
}
