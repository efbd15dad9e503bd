package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Clock patterns, tried most-specific first: "7:30 pm", "8pm", then a bare
// number in dedicated time text ("8", "Doors 8").
var (
	clockColonRe    = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(a\.?m\.?|p\.?m\.?)?`)
	clockMeridiemRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(a\.?m\.?|p\.?m\.?)`)
	clockBareRe     = regexp.MustCompile(`^\D*(\d{1,2})\D*$`)
)

// findClock extracts the first clock reading from text. meridiem is "a", "p",
// or "" when the source gave none.
func findClock(text string) (hour, minute int, meridiem string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, 0, "", false
	}

	if m := clockColonRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		meridiem = normalizeMeridiem(m[3])
		return hour, minute, meridiem, hour <= 23 && minute <= 59
	}
	if m := clockMeridiemRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		meridiem = normalizeMeridiem(m[2])
		return hour, 0, meridiem, hour <= 12
	}
	if m := clockBareRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		return hour, 0, "", hour <= 23
	}
	return 0, 0, "", false
}

func normalizeMeridiem(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return s[:1]
}

// applyMeridiem converts a clock reading to a 24h hour. A bare hour between
// 1 and 11 without meridiem is assumed to be venue-local evening (a listing
// that says "8" means 20:00, not 08:00); the caller flags such times
// low-confidence. This is a documented heuristic, not a guarantee.
func applyMeridiem(hour int, meridiem string) (int, bool) {
	switch meridiem {
	case "p":
		if hour < 12 {
			hour += 12
		}
		return hour, false
	case "a":
		if hour == 12 {
			hour = 0
		}
		return hour, false
	default:
		if hour >= 1 && hour <= 11 {
			return hour + 12, true
		}
		return hour, false
	}
}

// parseStart parses the extractor's date and time text into a local instant.
// lowConfidence marks values produced by the evening heuristic rather than an
// unambiguous source time.
func parseStart(dateText, timeText string, loc *time.Location) (start time.Time, lowConfidence bool, err error) {
	dateText = strings.TrimSpace(dateText)
	timeText = strings.TrimSpace(timeText)
	combined := strings.TrimSpace(dateText + " " + timeText)

	// Many sources hand over a complete timestamp already
	if t, perr := dateparse.ParseIn(combined, loc); perr == nil {
		hour, _, meridiem, ok := findClock(combined)
		if !ok {
			// Date only: assume an evening show
			return time.Date(t.Year(), t.Month(), t.Day(), 20, 0, 0, 0, loc), true, nil
		}
		// dateparse reads a bare "8" as 08:00; shift it into the evening
		// window when the source gave no meridiem
		if meridiem == "" && hour >= 1 && hour <= 11 && t.In(loc).Hour() == hour {
			return t.Add(12 * time.Hour), true, nil
		}
		return t, false, nil
	}

	// Fall back to parsing the date and the clock separately
	day, perr := dateparse.ParseIn(dateText, loc)
	if perr != nil {
		return time.Time{}, false, fmt.Errorf("unparseable date %q: %w", dateText, perr)
	}

	hour, minute, meridiem, ok := findClock(timeText)
	if !ok {
		return time.Date(day.Year(), day.Month(), day.Day(), 20, 0, 0, 0, loc), true, nil
	}

	hour, lowConfidence = applyMeridiem(hour, meridiem)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), lowConfidence, nil
}

// parseClockAt reads a clock from dedicated time text (doors, end time) and
// places it on the start instant's local date.
func parseClockAt(text string, start time.Time, loc *time.Location) (time.Time, bool) {
	hour, minute, meridiem, ok := findClock(text)
	if !ok {
		return time.Time{}, false
	}

	hour, _ = applyMeridiem(hour, meridiem)
	local := start.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc), true
}
