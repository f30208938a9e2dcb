package post

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// ParseDate extracts the UTC calendar date from a created_utc value. It
// accepts ISO-8601 (any suffix after the date), unix epoch seconds or
// milliseconds as a string, and M/D/YYYY with an optional time. The second
// return value is false when the value cannot be interpreted.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, false
		}
		if math.Abs(f) >= epochMillisThreshold {
			f /= 1000
		}
		sec, frac := math.Modf(f)
		return day(time.Unix(int64(sec), int64(frac*1e9)).UTC()), true
	}

	if strings.Contains(s, "-") {
		if len(s) < len(dayLayout) {
			return time.Time{}, false
		}
		t, err := time.Parse(dayLayout, s[:len(dayLayout)])
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}

	if t, ok := parseSlashDate(s); ok {
		return day(t), true
	}
	return time.Time{}, false
}

// NormalizeCreated rewrites the locale-specific timestamps used by dataset
// imports into ISO form (2006-01-02T15:04:05). Values already in ISO or epoch
// form, and values it does not recognise, are returned unchanged.
func NormalizeCreated(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, "TZ") {
		return s
	}
	if t, ok := parseSlashDate(s); ok {
		return t.Format("2006-01-02T15:04:05")
	}
	if len(s) >= 19 && s[10] == ' ' {
		if t, err := time.Parse("2006-01-02 15:04:05", s[:19]); err == nil {
			return t.Format("2006-01-02T15:04:05")
		}
	}
	if len(s) == len(dayLayout) {
		if t, err := time.Parse(dayLayout, s); err == nil {
			return t.Format("2006-01-02T15:04:05")
		}
	}
	return s
}

// parseSlashDate handles "M/D/YYYY" and "M/D/YYYY H:MM[:SS]".
func parseSlashDate(s string) (time.Time, bool) {
	parts := strings.Fields(s)
	if len(parts) == 0 || !strings.Contains(parts[0], "/") {
		return time.Time{}, false
	}
	t, err := time.Parse("1/2/2006", parts[0])
	if err != nil {
		return time.Time{}, false
	}
	if len(parts) > 1 {
		hm := strings.Split(parts[1], ":")
		if len(hm) >= 2 {
			h, errH := strconv.Atoi(hm[0])
			m, errM := strconv.Atoi(hm[1])
			if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
				t = t.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
			}
		}
	}
	return t, true
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive calendar-date window over created_utc. A zero
// bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange parses YYYY-MM-DD bounds; empty strings leave a bound open.
func NewDateRange(from, to string) (DateRange, error) {
	var r DateRange
	var err error
	if r.From, err = parseBound(from); err != nil {
		return DateRange{}, fmt.Errorf("date_from: %w", err)
	}
	if r.To, err = parseBound(to); err != nil {
		return DateRange{}, fmt.Errorf("date_to: %w", err)
	}
	return r, nil
}

func parseBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > len(dayLayout) {
		s = s[:len(dayLayout)]
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// Active reports whether either bound is set.
func (r DateRange) Active() bool {
	return !r.From.IsZero() || !r.To.IsZero()
}

// Contains applies the publication-date policy: with no active bound every
// post matches; with one, posts whose created_utc cannot be parsed never match.
func (r DateRange) Contains(createdUTC string) bool {
	if !r.Active() {
		return true
	}
	d, ok := ParseDate(createdUTC)
	if !ok {
		return false
	}
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

// Filter returns the posts whose created_utc falls inside the range.
func (r DateRange) Filter(posts []Post) []Post {
	if !r.Active() {
		return posts
	}
	out := posts[:0:0]
	for _, p := range posts {
		if r.Contains(p.CreatedUTC) {
			out = append(out, p)
		}
	}
	return out
}
