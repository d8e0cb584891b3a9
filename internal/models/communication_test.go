package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/fomc-tracker/internal/models"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "iso", raw: "2024-01-31"},
		{name: "padded", raw: "  2024-01-31 "},
		{name: "rfc3339 drops time", raw: "2024-01-31T18:30:00Z"},
		{name: "rfc3339 offset keeps local day", raw: "2024-01-31T23:30:00-05:00"},
		{name: "timestamp", raw: "2024-01-31 14:00:00"},
		{name: "us slashes", raw: "01/31/2024"},
		{name: "long form", raw: "January 31, 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.ParseDate(tt.raw)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}

	_, err := models.ParseDate("not-a-date")
	require.Error(t, err)
	_, err = models.ParseDate("2024-02-30")
	require.Error(t, err)
}

func TestParseType(t *testing.T) {
	for raw, want := range map[string]models.Type{
		"Statement":         models.TypeStatement,
		"minutes":           models.TypeMinute,
		"Minute":            models.TypeMinute,
		"scheduled meeting": models.TypeScheduledMeeting,
	} {
		got, err := models.ParseType(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}

	_, err := models.ParseType("press conference")
	require.Error(t, err)

	require.True(t, models.TypeMinute.IsContent())
	require.False(t, models.TypeScheduledMeeting.IsContent())
}
