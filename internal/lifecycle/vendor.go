package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// NextWeekday returns midnight of the first day strictly after from that falls
// on day, in from's location.
func NextWeekday(from time.Time, day time.Weekday) time.Time {
	delta := (int(day) - int(from.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	y, m, d := from.Date()
	return time.Date(y, m, d+delta, 0, 0, 0, 0, from.Location())
}

// VendorVisitNote is appended to the resolution audit message of tickets that
// were waiting on the vendor.
func VendorVisitNote(resolvedAt time.Time, day time.Weekday) string {
	visit := NextWeekday(resolvedAt, day)
	return fmt.Sprintf("Vendor follow-up visit scheduled for %s, %s", visit.Weekday(), visit.Format("2006-01-02"))
}

// ParseWeekday accepts full or three-letter English day names, case-insensitively.
func ParseWeekday(value string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", value)
}
