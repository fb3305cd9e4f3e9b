package matching

import (
	"time"

	"cleaner-dispatch/internal/models"
)

// IsAvailable reports whether any active window falls on the weekday of
// scheduledAt, evaluated in scheduledAt's own location. Time of day is not
// compared.
func IsAvailable(windows []models.AvailabilityWindow, scheduledAt time.Time) bool {
	day := scheduledAt.Weekday()
	for _, w := range windows {
		if w.Active && w.DayOfWeek == day {
			return true
		}
	}
	return false
}
