// Package timeutil implements the date/time arithmetic used by the reminder
// subsystem: timezone alias resolution, local-to-UTC conversion, and
// recurrence advancement. All functions are pure and do no I/O.
package timeutil

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrUnknownTimezone is returned when a timezone name is not a valid IANA
// zone identifier.
var ErrUnknownTimezone = errors.New("unknown timezone")

// ianaPattern matches an IANA-style Region/City token inside free text.
var ianaPattern = regexp.MustCompile(`\b[A-Za-z]+/[A-Za-z_]+\b`)

// nonAlnum collapses everything that is not a latin/cyrillic letter or a
// digit into spaces during alias normalization.
var nonAlnum = regexp.MustCompile(`[^0-9a-zа-яё]+`)

// tzAliases maps canonical zone names to the free-text aliases users
// actually type. Matching is substring-based on normalized text; the first
// hit wins, there is no ranking.
var tzAliases = []struct {
	zone    string
	aliases []string
}{
	{
		zone: "Asia/Jerusalem",
		aliases: []string{
			"тель авив", "тель авиве", "tel aviv", "telaviv",
			"tel aviv yafo", "tel aviv-yafo",
			"израиль", "israel", "jerusalem", "иерусалим",
		},
	},
	{
		zone:    "UTC",
		aliases: []string{"utc", "gmt", "гринвич"},
	},
	{
		zone: "Europe/Moscow",
		aliases: []string{
			"москва", "москве", "moscow", "мск",
		},
	},
	{
		zone: "Europe/London",
		aliases: []string{
			"лондон", "лондоне", "london",
		},
	},
	{
		zone: "America/New_York",
		aliases: []string{
			"нью йорк", "нью йорке", "new york", "nyc",
		},
	},
	{
		zone: "Europe/Berlin",
		aliases: []string{
			"берлин", "берлине", "berlin", "германия", "germany",
		},
	},
}

// ResolveTimezoneAlias extracts a timezone name from free text. An explicit
// IANA Region/City token takes precedence; otherwise the text is normalized
// (lowercased, punctuation stripped) and matched against the alias table.
// Returns false when nothing matches.
func ResolveTimezoneAlias(text string) (string, bool) {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return "", false
	}

	if m := ianaPattern.FindString(candidate); m != "" {
		return m, true
	}

	normalized := strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(candidate), " "))
	if normalized == "" {
		return "", false
	}

	for _, entry := range tzAliases {
		for _, alias := range entry.aliases {
			if strings.Contains(normalized, alias) {
				return entry.zone, true
			}
		}
	}
	return "", false
}

// LoadLocation resolves a zone name, mapping failures to ErrUnknownTimezone.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrUnknownTimezone
	}
	return loc, nil
}

// LocalToUTC attaches the given zone to a timezone-naive local time and
// converts it to UTC.
func LocalToUTC(local time.Time, tzName string) (time.Time, error) {
	loc, err := LoadLocation(tzName)
	if err != nil {
		return time.Time{}, err
	}
	attached := time.Date(
		local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(),
		loc,
	)
	return attached.UTC(), nil
}

// localLayouts are the accepted ISO local datetime shapes, seconds optional.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseLocalDateTime parses a timezone-naive ISO local datetime string.
func ParseLocalDateTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AddMonths advances a time by whole calendar months, clamping the
// day-of-month to the last valid day of the target month. Jan 31 plus one
// month lands on the last day of February, never on March.
func AddMonths(t time.Time, months int) time.Time {
	year := t.Year() + (int(t.Month())-1+months)/12
	month := time.Month((int(t.Month())-1+months)%12 + 1)
	day := t.Day()
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AdvanceByRecurrence computes the next occurrence of a recurring schedule.
// The instant is converted to local time in tzName, advanced by one unit of
// wall-clock time, and converted back to UTC, so recurring reminders stay
// pinned to the same local minute across DST shifts. Returns false for
// repeat "none", an unrecognized repeat value, or an invalid zone.
func AdvanceByRecurrence(utc time.Time, repeat, tzName string) (time.Time, bool) {
	loc, err := LoadLocation(tzName)
	if err != nil {
		return time.Time{}, false
	}
	local := utc.In(loc)

	switch repeat {
	case "hourly":
		local = time.Date(local.Year(), local.Month(), local.Day(),
			local.Hour()+1, local.Minute(), local.Second(), local.Nanosecond(), loc)
	case "daily":
		local = time.Date(local.Year(), local.Month(), local.Day()+1,
			local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	case "weekly":
		local = time.Date(local.Year(), local.Month(), local.Day()+7,
			local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	case "monthly":
		local = AddMonths(local, 1)
	case "yearly":
		local = AddMonths(local, 12)
	default:
		return time.Time{}, false
	}
	return local.UTC(), true
}
