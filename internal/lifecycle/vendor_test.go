package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWeekday(t *testing.T) {
	// 2026-03-02 is a Monday.
	monday := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		day  time.Weekday
		want time.Time
	}{
		{time.Thursday, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		{time.Monday, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{time.Sunday, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.day.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, NextWeekday(monday, tt.day))
		})
	}
}

func TestVendorVisitNote(t *testing.T) {
	note := VendorVisitNote(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), time.Thursday)
	assert.Equal(t, "Vendor follow-up visit scheduled for Thursday, 2026-03-05", note)
}

func TestParseWeekday(t *testing.T) {
	for _, in := range []string{"Thursday", "thu", " THURSDAY "} {
		d, err := ParseWeekday(in)
		require.NoError(t, err)
		assert.Equal(t, time.Thursday, d)
	}
	_, err := ParseWeekday("someday")
	assert.Error(t, err)
}
