// Package xctime parses and formats race times and derives an athlete's grade
// for a given race date.
//
// Times are carried as integer centiseconds throughout the service. A value of
// 0 means "no valid time" (DNF, DNS, DQ or unparseable input).
package xctime

import (
	"fmt"
	"strconv"
	"strings"
)

// DNF is the display sentinel for a missing or invalid time.
const DNF = "DNF"

var noTimeTokens = map[string]bool{
	"DNF": true,
	"DNS": true,
	"DQ":  true,
	"NT":  true,
	"SCR": true,
}

// ParseTime converts "M:SS", "M:SS.h", "M:SS.hh" or "H:MM:SS(.hh)" into
// centiseconds. Anything else, including the DNF family of tokens, yields 0.
func ParseTime(s string) int {
	s = strings.TrimSpace(s)
	if s == "" || noTimeTokens[strings.ToUpper(s)] {
		return 0
	}

	clock, frac, hasFrac := strings.Cut(s, ".")
	hundredths := 0
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 || !allDigits(frac) {
			return 0
		}
		n, _ := strconv.Atoi(frac)
		if len(frac) == 1 {
			n *= 10
		}
		hundredths = n
	}

	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	var hours, minutes, seconds int
	var ok bool
	if len(parts) == 3 {
		if hours, ok = parseField(parts[0], 0, -1); !ok {
			return 0
		}
		if minutes, ok = parseField(parts[1], 2, 59); !ok {
			return 0
		}
	} else if minutes, ok = parseField(parts[0], 0, -1); !ok {
		return 0
	}
	if seconds, ok = parseField(parts[len(parts)-1], 2, 59); !ok {
		return 0
	}

	total := ((hours*60+minutes)*60+seconds)*100 + hundredths
	if total <= 0 {
		return 0
	}
	return total
}

// FormatTime renders centiseconds as "M:SS.hh" (or "H:MM:SS.hh" past an hour).
// Non-positive values render as DNF.
func FormatTime(cs int) string {
	if cs <= 0 {
		return DNF
	}
	hundredths := cs % 100
	totalSeconds := cs / 100
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	if totalMinutes >= 60 {
		return fmt.Sprintf("%d:%02d:%02d.%02d", totalMinutes/60, totalMinutes%60, seconds, hundredths)
	}
	return fmt.Sprintf("%d:%02d.%02d", totalMinutes, seconds, hundredths)
}

// NormalizeDisplay returns the canonical zero-padded form of a display time.
func NormalizeDisplay(s string) string {
	return FormatTime(ParseTime(s))
}

// FormatPace renders a per-mile centisecond value rounded to the hundredth.
func FormatPace(csPerMile float64) string {
	if csPerMile <= 0 {
		return DNF
	}
	return FormatTime(int(csPerMile + 0.5))
}

// parseField parses a run of digits. width > 0 requires exactly that many
// digits; max >= 0 bounds the value.
func parseField(s string, width, max int) (int, bool) {
	if s == "" || !allDigits(s) {
		return 0, false
	}
	if width > 0 && len(s) != width {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	if max >= 0 && n > max {
		return 0, false
	}
	return n, true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
