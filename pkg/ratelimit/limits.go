// Package ratelimit gates calls to the metered enrichment provider.
//
// A Gate evaluates, in order: the global kill switch, the provider-wide 429
// cooldown, the per-entity stampede lock, the global spacing floor, the
// per-entity cooldown and the day/hour budgets. The first failing check
// names the skip reason. On pass it records counters and markers before the
// caller issues the upstream request.
//
// All state lives in a cache.Store so several gateway instances share it.
// Counters are read-modify-write and may undercount under contention; the
// gate contains cost, it does not meter exactly. The stampede lock itself
// is taken with SetNX.
package ratelimit

import (
	"fmt"
	"time"
)

// Night window bounds in local hours: [22:00, 07:00).
const (
	NightStartHour = 22
	NightEndHour   = 7
)

// Kind is the entity class being enriched.
type Kind string

const (
	KindFlight   Kind = "flight"
	KindAircraft Kind = "aircraft"
)

// Profile holds the limits in force during one part of the day.
type Profile struct {
	// GlobalSpacing is the minimum gap between any two metered calls.
	GlobalSpacing time.Duration

	// FlightCooldown and AircraftCooldown suppress repeat lookups of the
	// same entity.
	FlightCooldown   time.Duration
	AircraftCooldown time.Duration

	// DayLimit and HourLimit cap calls per calendar day and hour.
	DayLimit  int
	HourLimit int
}

// Cooldown returns the per-entity cooldown for kind.
func (p Profile) Cooldown(kind Kind) time.Duration {
	if kind == KindAircraft {
		return p.AircraftCooldown
	}
	return p.FlightCooldown
}

// Limits configures a Gate.
type Limits struct {
	Enabled bool

	Day   Profile
	Night Profile

	// LockTTL bounds how long a stampede lock survives a crashed leader.
	LockTTL time.Duration

	// ProviderCooldown is how long a provider 429 blocks all enrichment.
	ProviderCooldown time.Duration

	// Location decides the night window and the day/hour window keys.
	Location *time.Location
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		Enabled: true,
		Day: Profile{
			GlobalSpacing:    20 * time.Second,
			FlightCooldown:   30 * time.Minute,
			AircraftCooldown: 6 * time.Hour,
			DayLimit:         200,
			HourLimit:        20,
		},
		Night: Profile{
			GlobalSpacing:    8 * time.Second,
			FlightCooldown:   15 * time.Minute,
			AircraftCooldown: 2 * time.Hour,
			DayLimit:         300,
			HourLimit:        40,
		},
		LockTTL:          12 * time.Second,
		ProviderCooldown: 5 * time.Minute,
		Location:         time.UTC,
	}
}

// Validate rejects budgets that are not positive or do not grow at night,
// and night spacing or cooldowns longer than the daytime ones.
func (l Limits) Validate() error {
	if l.Day.DayLimit <= 0 || l.Day.HourLimit <= 0 {
		return fmt.Errorf("day profile limits must be positive (day=%d hour=%d)", l.Day.DayLimit, l.Day.HourLimit)
	}
	if l.Night.DayLimit <= l.Day.DayLimit {
		return fmt.Errorf("night day-limit %d must exceed day-limit %d", l.Night.DayLimit, l.Day.DayLimit)
	}
	if l.Night.HourLimit <= l.Day.HourLimit {
		return fmt.Errorf("night hour-limit %d must exceed day hour-limit %d", l.Night.HourLimit, l.Day.HourLimit)
	}
	for _, d := range []struct {
		name       string
		day, night time.Duration
	}{
		{"global spacing", l.Day.GlobalSpacing, l.Night.GlobalSpacing},
		{"flight cooldown", l.Day.FlightCooldown, l.Night.FlightCooldown},
		{"aircraft cooldown", l.Day.AircraftCooldown, l.Night.AircraftCooldown},
	} {
		if d.night > d.day {
			return fmt.Errorf("night %s %s is longer than day %s", d.name, d.night, d.day)
		}
	}
	if l.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive")
	}
	return nil
}

// Active returns the profile in force at now.
func (l Limits) Active(now time.Time) Profile {
	if IsNightWindow(now, l.Location) {
		return l.Night
	}
	return l.Day
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// IsNightWindow reports whether now falls in [22:00, 07:00) local time in loc.
// A nil loc means UTC.
func IsNightWindow(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	h := now.In(loc).Hour()
	return h >= NightStartHour || h < NightEndHour
}

// WindowKeys returns the day ("20261019") and hour ("2026101913") budget
// window identifiers for now in loc. Counters reset when the key changes.
func WindowKeys(now time.Time, loc *time.Location) (day, hour string) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return local.Format("20060102"), local.Format("2006010215")
}
