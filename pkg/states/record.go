// Package states fetches aircraft state vectors for a bounding box from the
// primary provider (OpenSky) and fails over to the secondary (adsb.lol),
// normalizing both into the primary's positional row schema.
package states

import (
	"math"
)

// Unit conversions applied to the secondary provider.
const (
	FeetToMeters = 0.3048
	KnotsToMps   = 0.514444
	FpmToMps     = 0.00508
)

// Provider tags reported in the X-Provider header.
const (
	ProviderOpenSky = "opensky"
	ProviderADSBLol = "adsb.lol"
)

// RowLength is the number of positions in a normalized state row.
const RowLength = 18

// StateRecord is one aircraft's normalized position and kinematics. Nil
// pointers encode "unknown" and render as JSON null.
type StateRecord struct {
	ICAO24        string
	Callsign      *string
	OriginCountry *string
	TimePosition  *int64
	LastContact   *int64
	Longitude     *float64
	Latitude      *float64
	BaroAltitude  *float64 // meters
	OnGround      bool
	Velocity      *float64 // m/s
	TrueTrack     *float64 // degrees
	VerticalRate  *float64 // m/s
	GeoAltitude   *float64 // meters
	Squawk        *string
	SPI           bool
	PositionSrc   int

	// Category is OpenSky's numeric aircraft category; TypeHint is a type
	// designator from the secondary provider. Row position 17 carries
	// whichever is set.
	Category *int
	TypeHint *string
}

// Valid reports whether the record satisfies the row invariants: a
// non-empty identifier and a finite position.
func (r StateRecord) Valid() bool {
	if r.ICAO24 == "" || r.Latitude == nil || r.Longitude == nil {
		return false
	}
	return finite(*r.Latitude) && finite(*r.Longitude)
}

// Row renders the record in the primary provider's positional schema:
// [icao24, callsign, origin_country, time_position, last_contact, lon, lat,
// baro_altitude, on_ground, velocity, true_track, vertical_rate, sensors,
// geo_altitude, squawk, spi, position_source, category].
func (r StateRecord) Row() []any {
	row := make([]any, RowLength)
	row[0] = r.ICAO24
	row[1] = strOrNil(r.Callsign)
	row[2] = strOrNil(r.OriginCountry)
	row[3] = intOrNil(r.TimePosition)
	row[4] = intOrNil(r.LastContact)
	row[5] = floatOrNil(r.Longitude)
	row[6] = floatOrNil(r.Latitude)
	row[7] = floatOrNil(r.BaroAltitude)
	row[8] = r.OnGround
	row[9] = floatOrNil(r.Velocity)
	row[10] = floatOrNil(r.TrueTrack)
	row[11] = floatOrNil(r.VerticalRate)
	row[12] = nil
	row[13] = floatOrNil(r.GeoAltitude)
	row[14] = strOrNil(r.Squawk)
	row[15] = r.SPI
	row[16] = r.PositionSrc
	switch {
	case r.TypeHint != nil:
		row[17] = *r.TypeHint
	case r.Category != nil:
		row[17] = *r.Category
	default:
		row[17] = nil
	}
	return row
}

// Payload is the JSON body served by /opensky/states.
type Payload struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// NewPayload renders records as rows. States is never nil so it encodes
// as [] rather than null.
func NewPayload(ts int64, records []StateRecord) Payload {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.Row())
	}
	return Payload{Time: ts, States: rows}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// finitePtr drops NaN and infinities so they surface as null.
func finitePtr(f *float64) *float64 {
	if f == nil || !finite(*f) {
		return nil
	}
	return f
}

func scaled(f *float64, factor float64) *float64 {
	if f = finitePtr(f); f == nil {
		return nil
	}
	v := *f * factor
	return &v
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func intOrNil(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func floatOrNil(f *float64) any {
	if f = finitePtr(f); f == nil {
		return nil
	}
	return *f
}
