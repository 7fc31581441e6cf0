package testutil

import (
	"net/http"
	"sync/atomic"
)

// Provider paths served by the mocks.
const (
	OpenSkyStatesPath = "/states/all"
	OpenSkyTokenPath  = "/auth/token"
	ADSBLolPointPath  = "/v2/point/"
	AeroFlightPath    = "/flights/callsign/"
	AeroAircraftPath  = "/aircrafts/icao24/"
)

// OpenSkyStatesBody is a /states/all payload with two aircraft over Denver;
// the second has no position and is dropped by the parser.
const OpenSkyStatesBody = `{
  "time": 1760890000,
  "states": [
    ["a1b2c3", "DAL123  ", "United States", 1760889995, 1760889999, -104.85, 39.8, 3048.0, false, 150.5, 270.0, -2.5, null, 3100.0, "4521", false, 0, 4],
    ["abc999", "UAL9    ", "United States", null, 1760889990, null, null, null, true, 0.0, null, null, null, null, null, false, 0]
  ]
}`

// ADSBLolPointBody is a /v2/point payload with one airborne aircraft, one on
// the ground and one without position.
const ADSBLolPointBody = `{
  "ac": [
    {"hex": "a1b2c3", "flight": "DAL123  ", "lat": 39.8, "lon": -104.85, "alt_baro": 1000, "alt_geom": 1100, "gs": 100, "track": 270.5, "baro_rate": 600, "squawk": "4521", "seen": 1.2, "seen_pos": 2.4, "t": "B739"},
    {"hex": "~2c0ffe", "flight": "N123AB", "lat": 39.86, "lon": -104.75, "alt_baro": "ground", "gs": 5, "seen": 0.5, "seen_pos": 0.5},
    {"hex": "def456", "flight": "SWA1", "seen": 3}
  ],
  "msg": "No error",
  "now": 1760890000000,
  "total": 3
}`

// AeroFlightBody is an AeroDataBox flights-by-callsign payload.
const AeroFlightBody = `[
  {
    "number": "DL 123",
    "callSign": "DAL123",
    "status": "EnRoute",
    "departure": {"airport": {"icao": "KATL", "iata": "ATL", "name": "Atlanta Hartsfield-Jackson", "municipalityName": "Atlanta"}},
    "arrival": {"airport": {"icao": "KDEN", "iata": "DEN", "name": "Denver", "municipalityName": "Denver"}},
    "aircraft": {"reg": "N123DL", "modeS": "A1B2C3", "model": "Boeing 737-900"},
    "airline": {"name": "Delta Air Lines", "iata": "DL", "icao": "DAL"}
  }
]`

// AeroAircraftBody is an AeroDataBox aircraft-by-icao24 payload.
const AeroAircraftBody = `{
  "id": 12345,
  "reg": "N123DL",
  "active": true,
  "hexIcao": "A1B2C3",
  "airlineName": "Delta Air Lines",
  "iataCodeShort": "739",
  "icaoCode": "B739",
  "model": "Boeing 737-900",
  "modelCode": "737-932ER",
  "typeName": "Boeing 737-900ER",
  "numSeats": 180,
  "productionLine": "Boeing 737 NG",
  "verified": true,
  "isFreighter": false
}`

// NewOpenSky creates an OpenSky mock whose states endpoint returns
// OpenSkyStatesBody and whose token endpoint issues "test-token".
func NewOpenSky() *MockUpstream {
	m := NewMockUpstream()
	m.SetResponse(OpenSkyStatesPath, NewJSONResponse(OpenSkyStatesBody))
	m.SetResponse(OpenSkyTokenPath, NewJSONResponse(`{"access_token":"test-token","expires_in":1800,"token_type":"Bearer"}`))
	return m
}

// NewADSBLol creates an adsb.lol mock serving ADSBLolPointBody.
func NewADSBLol() *MockUpstream {
	m := NewMockUpstream()
	m.SetResponse(ADSBLolPointPath, NewJSONResponse(ADSBLolPointBody))
	return m
}

// NewAeroDataBox creates an AeroDataBox mock serving the flight and
// aircraft bodies for any id.
func NewAeroDataBox() *MockUpstream {
	m := NewMockUpstream()
	m.SetResponse(AeroFlightPath, NewJSONResponse(AeroFlightBody))
	m.SetResponse(AeroAircraftPath, NewJSONResponse(AeroAircraftBody))
	return m
}

// NewSequenceHandler returns handler i on the i-th call, repeating the
// last one once the sequence runs out.
func NewSequenceHandler(handlers ...http.HandlerFunc) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1)) - 1
		if i >= len(handlers) {
			i = len(handlers) - 1
		}
		handlers[i](w, r)
	}
}

// Respond returns a handler writing resp.
func Respond(resp MockResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}
