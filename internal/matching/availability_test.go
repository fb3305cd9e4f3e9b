package matching

import (
	"testing"
	"time"

	"cleaner-dispatch/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestIsAvailable(t *testing.T) {
	monday := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		windows []models.AvailabilityWindow
		want    bool
	}{
		{"no windows", nil, false},
		{"active monday", []models.AvailabilityWindow{{DayOfWeek: time.Monday, StartTime: "08:00", EndTime: "12:00", Active: true}}, true},
		{"inactive monday", []models.AvailabilityWindow{{DayOfWeek: time.Monday, Active: false}}, false},
		{"other days only", []models.AvailabilityWindow{
			{DayOfWeek: time.Sunday, Active: true},
			{DayOfWeek: time.Tuesday, Active: true},
		}, false},
		{"time of day is ignored", []models.AvailabilityWindow{{DayOfWeek: time.Monday, StartTime: "06:00", EndTime: "07:00", Active: true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAvailable(tt.windows, monday))
		})
	}
}

func TestIsAvailable_UsesScheduledLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// Monday 08:00 in Tokyo is still Sunday in UTC.
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, tokyo)
	windows := []models.AvailabilityWindow{{DayOfWeek: time.Monday, Active: true}}

	assert.True(t, IsAvailable(windows, at))
	assert.False(t, IsAvailable(windows, at.UTC()))
}
