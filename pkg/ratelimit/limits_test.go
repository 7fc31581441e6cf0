package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNightWindow(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)

	tests := []struct {
		name  string
		local string
		want  bool
	}{
		{"late evening", "2026-10-19 22:00", true},
		{"just before night", "2026-10-19 21:59", false},
		{"midnight", "2026-10-20 00:30", true},
		{"early morning", "2026-10-20 06:59", true},
		{"morning", "2026-10-20 07:00", false},
		{"midday", "2026-10-20 12:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.ParseInLocation("2006-01-02 15:04", tt.local, denver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, IsNightWindow(now.UTC(), denver))
		})
	}
}

func TestIsNightWindow_NilLocationIsUTC(t *testing.T) {
	assert.True(t, IsNightWindow(time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC), nil))
	assert.False(t, IsNightWindow(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), nil))
}

func TestWindowKeys(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)

	// 02:30 UTC on the 20th is 20:30 on the 19th in Denver (MDT).
	now := time.Date(2026, 10, 20, 2, 30, 0, 0, time.UTC)
	day, hour := WindowKeys(now, denver)
	assert.Equal(t, "20261019", day)
	assert.Equal(t, "2026101920", hour)

	day, hour = WindowKeys(now, nil)
	assert.Equal(t, "20261020", day)
	assert.Equal(t, "2026102002", hour)
}

func TestDefaultLimits_NightIsMoreGenerous(t *testing.T) {
	l := DefaultLimits()
	require.NoError(t, l.Validate())

	assert.Greater(t, l.Night.DayLimit, l.Day.DayLimit)
	assert.Greater(t, l.Night.HourLimit, l.Day.HourLimit)
	assert.Less(t, l.Night.GlobalSpacing, l.Day.GlobalSpacing)
	assert.Less(t, l.Night.FlightCooldown, l.Day.FlightCooldown)
	assert.Less(t, l.Night.AircraftCooldown, l.Day.AircraftCooldown)
	assert.Greater(t, l.Day.AircraftCooldown, l.Day.FlightCooldown)
}

func TestLimits_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Limits)
	}{
		{"night day-limit below day", func(l *Limits) { l.Night.DayLimit = l.Day.DayLimit - 1 }},
		{"night hour-limit below day", func(l *Limits) { l.Night.HourLimit = l.Day.HourLimit - 1 }},
		{"night day-limit equal to day", func(l *Limits) { l.Night.DayLimit = l.Day.DayLimit }},
		{"night hour-limit equal to day", func(l *Limits) { l.Night.HourLimit = l.Day.HourLimit }},
		{"night spacing longer than day", func(l *Limits) { l.Night.GlobalSpacing = l.Day.GlobalSpacing + time.Second }},
		{"night flight cooldown longer", func(l *Limits) { l.Night.FlightCooldown = time.Hour }},
		{"night aircraft cooldown longer", func(l *Limits) { l.Night.AircraftCooldown = 12 * time.Hour }},
		{"zero day limit", func(l *Limits) { l.Day.DayLimit = 0 }},
		{"zero lock ttl", func(l *Limits) { l.LockTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLimits()
			tt.mutate(&l)
			assert.Error(t, l.Validate())
		})
	}
}

func TestProfile_Cooldown(t *testing.T) {
	p := Profile{FlightCooldown: time.Minute, AircraftCooldown: time.Hour}
	assert.Equal(t, time.Minute, p.Cooldown(KindFlight))
	assert.Equal(t, time.Hour, p.Cooldown(KindAircraft))
}
