package policy

import "time"

// calendarGates maps a policy name to its day gate. Gates always see UTC;
// a snapshot scheduled "on the 1st" fires on the 1st in UTC no matter where
// the worker runs. Add entries here to introduce new cadences.
var calendarGates = map[string]func(day time.Time) bool{
	"daily_5":     func(time.Time) bool { return true },
	"monthly_1st": func(day time.Time) bool { return day.Day() == 1 },
	"monthly_15th": func(day time.Time) bool {
		return day.Day() == 15
	},
}

// ScheduledToday reports whether the named policy fires on the UTC day
// containing now. Unknown policies never fire.
func ScheduledToday(policy string, now time.Time) bool {
	gate, ok := calendarGates[policy]
	if !ok {
		return false
	}
	return gate(now.UTC())
}
