package enrich

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/Sternrassler/flight-gateway/pkg/geo"
)

// ErrInvalidID is returned for identifiers that cannot name an entity.
var ErrInvalidID = errors.New("invalid identifier")

// callsignPattern accepts airline-style callsigns: three-letter ICAO
// designator, flight number, optional suffix letter.
var callsignPattern = regexp.MustCompile(`^[A-Z]{3}\d{1,5}[A-Z]?$`)

var icao24Pattern = regexp.MustCompile(`^[0-9a-f]{6}$`)

// DefaultBlocklist holds cargo, charter and private-aviation operator
// prefixes that AeroDataBox rarely resolves.
var DefaultBlocklist = []string{
	"UPS", "FDX", "GTI", "ABX", "ATN", "CKS", "PAC", "CLX", "BOX", "GEC",
	"CAO", "NCA", "MPH", "DHK", "BCS", "DHX", "EJA", "LXJ", "XOJ", "TWY",
	"JTL", "EJM", "FFL", "VJA",
}

// NormalizeCallsign uppercases s and strips all whitespace.
func NormalizeCallsign(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}

// NormalizeICAO24 lowercases and validates a 24-bit hex address.
func NormalizeICAO24(s string) (string, error) {
	hex := strings.ToLower(strings.TrimSpace(s))
	if !icao24Pattern.MatchString(hex) {
		return "", ErrInvalidID
	}
	return hex, nil
}

// CallsignFilter rejects callsigns before any cache or gate work.
type CallsignFilter struct {
	BlocklistEnabled bool
	Blocklist        []string
}

// Supported reports whether callsign should be enriched. Callsigns that
// do not look like airline flights are rejected along with blocklisted
// operators; both surface as unsupported_callsign.
func (f CallsignFilter) Supported(callsign string) bool {
	if !callsignPattern.MatchString(callsign) {
		return false
	}
	if f.BlocklistEnabled {
		list := f.Blocklist
		if len(list) == 0 {
			list = DefaultBlocklist
		}
		for _, prefix := range list {
			if prefix != "" && strings.HasPrefix(callsign, strings.ToUpper(prefix)) {
				return false
			}
		}
	}
	return true
}

// Proximity skip reasons.
const (
	ReasonOutOfRange = "out_of_range"
	ReasonReceding   = "receding"
)

// Position is the caller-reported aircraft position.
type Position struct {
	Lat   float64
	Lon   float64
	Track *float64
}

// Proximity spends budget only on aircraft near, or heading towards, home.
type Proximity struct {
	Home             *geo.Point
	MaxDistanceKm    float64
	ApproachRadiusKm float64
}

// Check returns a skip reason, or "" when the lookup may proceed. Without
// a home point or a position every lookup proceeds.
func (p Proximity) Check(pos *Position) string {
	if p.Home == nil || pos == nil {
		return ""
	}
	at := geo.Point{Lat: pos.Lat, Lon: pos.Lon}
	dist := geo.DistanceKm(at, *p.Home)
	if p.MaxDistanceKm > 0 && dist > p.MaxDistanceKm {
		return ReasonOutOfRange
	}
	if pos.Track == nil || dist <= p.ApproachRadiusKm {
		return ""
	}
	toHome := geo.BearingDeg(at, *p.Home)
	if geo.AngleDelta(*pos.Track, toHome) > 90 {
		return ReasonReceding
	}
	return ""
}
