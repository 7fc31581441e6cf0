// Package config loads the gateway configuration from the environment.
//
// Values come from process environment variables, optionally seeded from a
// .env file. Durations accept Go syntax ("90s", "1h30m"), plain seconds
// ("30") or a day suffix ("7d").
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
	"github.com/Sternrassler/flight-gateway/pkg/enrich"
	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/logging"
	"github.com/Sternrassler/flight-gateway/pkg/ratelimit"
	"github.com/Sternrassler/flight-gateway/pkg/states"
	"github.com/Sternrassler/flight-gateway/pkg/swr"
	"github.com/Sternrassler/flight-gateway/pkg/token"
)

// Defaults that have no home in a component package.
const (
	DefaultPort             = "8080"
	DefaultVersion          = "dev"
	DefaultSQLitePath       = "data/flight-gateway.db"
	DefaultTimezone         = "America/Denver"
	DefaultMaxDistanceKm    = 150
	DefaultApproachRadiusKm = 25
)

// Config is the complete gateway configuration.
type Config struct {
	Port    string
	Version string
	AdsTxt  string
	Log     logging.Config

	RedisURL         string
	RowStore         cache.RowStoreConfig
	Tiers            cache.TierConfig
	EdgeMaxEntries   int
	OpenSky          token.Config
	OpenSkyBaseURL   string
	OpenSkyTimeout   time.Duration
	ADSBLolBaseURL   string
	ADSBLolTimeout   time.Duration
	States           states.ServiceConfig
	SWR              swr.Config
	AeroDataBox      enrich.AeroDataBoxConfig
	Enrich           enrich.Config
	Limits           ratelimit.Limits
	HardDailyBudget  int
	ProviderCooldown time.Duration
}

// Load reads files into the environment (".env" when none are given; a
// missing default file is ignored) and builds the configuration. Variables
// already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from lookup and validates it.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}

	cfg := &Config{
		Port:    e.str("PORT", DefaultPort),
		Version: e.str("APP_VERSION", DefaultVersion),
		AdsTxt:  e.str("ADS_TXT", ""),
		Log: logging.Config{
			Level:  logging.LogLevel(e.str("LOG_LEVEL", string(logging.LevelInfo))),
			Pretty: e.boolean("LOG_PRETTY", false),
		},

		RedisURL: e.str("REDIS_URL", ""),
		RowStore: cache.RowStoreConfig{
			Type:        strings.ToLower(e.str("ROW_STORE", cache.RowStoreSQLite)),
			SQLitePath:  e.str("SQLITE_PATH", DefaultSQLitePath),
			PostgresURL: e.str("POSTGRES_URL", ""),
		},
		Tiers: cache.TierConfig{
			Namespace: e.str("CACHE_NAMESPACE", "v1"),
		},
		EdgeMaxEntries: e.integer("EDGE_CACHE_MAX_ENTRIES", cache.DefaultMemoryMaxEntries),

		OpenSky: token.Config{
			ClientID:     e.str("OPENSKY_CLIENT_ID", ""),
			ClientSecret: e.str("OPENSKY_CLIENT_SECRET", ""),
			Username:     e.str("OPENSKY_USERNAME", ""),
			Password:     e.str("OPENSKY_PASSWORD", ""),
			TokenURL:     e.str("OPENSKY_TOKEN_URL", token.DefaultTokenURL),
			Timeout:      e.duration("OPENSKY_TOKEN_TIMEOUT", token.DefaultTimeout),
		},
		OpenSkyBaseURL: e.str("OPENSKY_BASE_URL", states.DefaultOpenSkyBaseURL),
		OpenSkyTimeout: e.duration("OPENSKY_STATES_TIMEOUT", states.DefaultOpenSkyTimeout),
		ADSBLolBaseURL: e.str("ADSBLOL_BASE_URL", states.DefaultADSBLolBaseURL),
		ADSBLolTimeout: e.duration("ADSBLOL_TIMEOUT", states.DefaultADSBLolTimeout),

		States: states.ServiceConfig{
			FreshTTL:       e.duration("STATES_FRESH_TTL", 10*time.Second),
			SWRWindow:      e.duration("STATES_SWR_WINDOW", 20*time.Second),
			StaleRetention: e.duration("STATES_STALE_RETENTION", 10*time.Minute),
			BucketStep:     states.DefaultServiceConfig().BucketStep,
		},
		SWR: swr.Config{
			LockTTL:  e.duration("STATES_REFRESH_LOCK_TTL", swr.DefaultLockTTL),
			MaxTasks: swr.DefaultMaxTasks,
		},

		AeroDataBox: enrich.AeroDataBoxConfig{
			APIKey:  e.str("AERODATA_API_KEY", ""),
			Host:    e.str("AERODATA_API_HOST", enrich.DefaultAeroDataBoxHost),
			BaseURL: e.str("AERODATA_BASE_URL", ""),
			Timeout: e.duration("AERODATA_TIMEOUT", enrich.DefaultAeroDataBoxTimeout),
		},

		HardDailyBudget:  e.integer("AERODATA_HARD_DAILY_BUDGET", 0),
		ProviderCooldown: e.duration("PROVIDER_COOLDOWN", ratelimit.DefaultLimits().ProviderCooldown),
	}

	def := enrich.DefaultConfig()
	cfg.Enrich = enrich.Config{
		FlightTTL:           e.duration("FLIGHT_TTL", def.FlightTTL),
		FlightVerifiedTTL:   e.duration("FLIGHT_VERIFIED_TTL", def.FlightVerifiedTTL),
		AircraftTTL:         e.duration("AIRCRAFT_TTL", def.AircraftTTL),
		AircraftVerifiedTTL: e.duration("AIRCRAFT_VERIFIED_TTL", def.AircraftVerifiedTTL),
		NegativeTTL:         e.duration("NEGATIVE_TTL", def.NegativeTTL),
		RateLimitTTL:        e.duration("RATE_LIMIT_CACHE_TTL", def.RateLimitTTL),
		LockWait:            e.duration("ENRICH_LOCK_WAIT", def.LockWait),
		PollInterval:        def.PollInterval,
		Callsigns: enrich.CallsignFilter{
			BlocklistEnabled: e.boolean("CALLSIGN_BLOCKLIST_ENABLED", false),
			Blocklist:        e.list("CALLSIGN_BLOCKLIST", enrich.DefaultBlocklist),
		},
		Proximity: enrich.Proximity{
			Home:             e.point("HOME_LAT", "HOME_LON"),
			MaxDistanceKm:    e.float("ENRICH_MAX_DISTANCE_KM", DefaultMaxDistanceKm),
			ApproachRadiusKm: e.float("ENRICH_APPROACH_RADIUS_KM", DefaultApproachRadiusKm),
		},
	}

	lim := ratelimit.DefaultLimits()
	cfg.Limits = ratelimit.Limits{
		Enabled: e.boolean("ENRICH_ENABLED", true),
		Day: ratelimit.Profile{
			GlobalSpacing:    e.duration("ENRICH_GLOBAL_SPACING_DAY", lim.Day.GlobalSpacing),
			FlightCooldown:   e.duration("FLIGHT_COOLDOWN_DAY", lim.Day.FlightCooldown),
			AircraftCooldown: e.duration("AIRCRAFT_COOLDOWN_DAY", lim.Day.AircraftCooldown),
			DayLimit:         e.integer("ENRICH_DAY_LIMIT_DAY", lim.Day.DayLimit),
			HourLimit:        e.integer("ENRICH_HOUR_LIMIT_DAY", lim.Day.HourLimit),
		},
		Night: ratelimit.Profile{
			GlobalSpacing:    e.duration("ENRICH_GLOBAL_SPACING_NIGHT", lim.Night.GlobalSpacing),
			FlightCooldown:   e.duration("FLIGHT_COOLDOWN_NIGHT", lim.Night.FlightCooldown),
			AircraftCooldown: e.duration("AIRCRAFT_COOLDOWN_NIGHT", lim.Night.AircraftCooldown),
			DayLimit:         e.integer("ENRICH_DAY_LIMIT_NIGHT", lim.Night.DayLimit),
			HourLimit:        e.integer("ENRICH_HOUR_LIMIT_NIGHT", lim.Night.HourLimit),
		},
		LockTTL:          e.duration("ENRICH_LOCK_TTL", lim.LockTTL),
		ProviderCooldown: cfg.ProviderCooldown,
		Location:         e.location("ENRICH_TIMEZONE", DefaultTimezone),
	}

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	switch c.RowStore.Type {
	case cache.RowStoreSQLite:
		if c.RowStore.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for ROW_STORE=sqlite")
		}
	case cache.RowStorePostgreSQL:
		if c.RowStore.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required for ROW_STORE=postgresql")
		}
	case cache.RowStoreNone:
	default:
		return fmt.Errorf("ROW_STORE %q is not one of sqlite, postgresql, none", c.RowStore.Type)
	}
	if c.OpenSkyTimeout <= c.OpenSky.Timeout {
		return fmt.Errorf("OPENSKY_STATES_TIMEOUT (%s) must exceed OPENSKY_TOKEN_TIMEOUT (%s)", c.OpenSkyTimeout, c.OpenSky.Timeout)
	}
	if c.States.FreshTTL <= 0 || c.States.StaleRetention < c.States.FreshTTL {
		return errors.New("STATES_STALE_RETENTION must be at least STATES_FRESH_TTL")
	}
	if err := c.validateTTLs(); err != nil {
		return err
	}
	if c.HardDailyBudget < 0 {
		return errors.New("AERODATA_HARD_DAILY_BUDGET must not be negative")
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("enrichment limits: %w", err)
	}
	return nil
}

// validateTTLs enforces NEGATIVE_TTL < positive TTL < verified TTL for
// both entity kinds.
func (c *Config) validateTTLs() error {
	e := c.Enrich
	for _, k := range []struct {
		name, verifiedName string
		ttl, verified      time.Duration
	}{
		{"FLIGHT_TTL", "FLIGHT_VERIFIED_TTL", e.FlightTTL, e.FlightVerifiedTTL},
		{"AIRCRAFT_TTL", "AIRCRAFT_VERIFIED_TTL", e.AircraftTTL, e.AircraftVerifiedTTL},
	} {
		if e.NegativeTTL >= k.ttl {
			return fmt.Errorf("NEGATIVE_TTL (%s) must be shorter than %s (%s)", e.NegativeTTL, k.name, k.ttl)
		}
		if k.ttl >= k.verified {
			return fmt.Errorf("%s (%s) must be shorter than %s (%s)", k.name, k.ttl, k.verifiedName, k.verified)
		}
	}
	return nil
}

// env reads typed values and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (e *env) location(key, def string) *time.Location {
	name := e.str(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: unknown time zone %q", key, name))
		return time.UTC
	}
	return loc
}

// point returns nil unless both coordinates are set.
func (e *env) point(latKey, lonKey string) *geo.Point {
	_, hasLat := e.raw(latKey)
	_, hasLon := e.raw(lonKey)
	if !hasLat || !hasLon {
		return nil
	}
	p := geo.Point{Lat: e.float(latKey, 0), Lon: e.float(lonKey, 0)}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		e.errs = append(e.errs, fmt.Errorf("%s/%s: coordinates out of range", latKey, lonKey))
		return nil
	}
	return &p
}

// ParseDuration accepts Go duration syntax, plain seconds or whole days
// with a "d" suffix.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
