package enrich

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/flight-gateway/internal/testutil"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

func newAeroClient(t *testing.T, mock *testutil.MockUpstream) *AeroDataBoxClient {
	t.Helper()
	c, err := NewAeroDataBoxClient(AeroDataBoxConfig{
		APIKey:  "test-key",
		BaseURL: mock.URL(),
		Timeout: time.Second,
	}, http.DefaultClient, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewAeroDataBoxClient_RequiresKey(t *testing.T) {
	_, err := NewAeroDataBoxClient(AeroDataBoxConfig{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAeroDataBox_FetchFlight(t *testing.T) {
	mock := testutil.NewAeroDataBox()
	defer mock.Close()

	info, err := newAeroClient(t, mock).FetchFlight(context.Background(), "DAL123")
	require.NoError(t, err)

	assert.Equal(t, "DAL123", info.Callsign)
	assert.Equal(t, "DL 123", info.Number)
	assert.Equal(t, "ATL", info.Origin)
	assert.Equal(t, "DEN", info.Destination)
	assert.Equal(t, "ATL-DEN", info.Route)
	assert.Equal(t, "Atlanta", info.OriginName)
	assert.Equal(t, "Delta Air Lines", info.AirlineName)
	assert.Equal(t, "DAL", info.AirlineICAO)
	assert.Equal(t, "Boeing 737-900", info.AircraftModel)
	assert.True(t, info.Verified)

	h := mock.LastRequestHeader()
	assert.Equal(t, "test-key", h.Get("X-RapidAPI-Key"))
	assert.Equal(t, DefaultAeroDataBoxHost, h.Get("X-RapidAPI-Host"))
	assert.Equal(t, "/flights/callsign/DAL123", mock.LastRequestURL())
}

func TestAeroDataBox_FetchFlight_Unverified(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(testutil.AeroFlightPath, testutil.NewJSONResponse(
		`[{"callSign":"SWA42","departure":{"airport":{"iata":"DEN"}},"arrival":{}}]`))

	info, err := newAeroClient(t, mock).FetchFlight(context.Background(), "SWA42")
	require.NoError(t, err)
	assert.Equal(t, "DEN", info.Origin)
	assert.Empty(t, info.Route)
	assert.False(t, info.Verified)
}

func TestAeroDataBox_NotFound(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockResponse
	}{
		{"empty list", testutil.NewJSONResponse(`[]`)},
		{"no content", testutil.MockResponse{StatusCode: http.StatusNoContent}},
		{"404", testutil.NewStatusResponse(http.StatusNotFound)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse(testutil.AeroFlightPath, tt.resp)

			_, err := newAeroClient(t, mock).FetchFlight(context.Background(), "AAL1")
			require.Error(t, err)
			assert.Equal(t, upstream.ErrorClassNotFound, upstream.ClassOf(err))
		})
	}
}

func TestAeroDataBox_RateLimited(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(testutil.AeroAircraftPath, testutil.NewRateLimitResponse())

	_, err := newAeroClient(t, mock).FetchAircraft(context.Background(), "a1b2c3")
	require.Error(t, err)
	assert.Equal(t, upstream.ErrorClassRateLimit, upstream.ClassOf(err))
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusOf(err))
}

func TestAeroDataBox_FetchAircraft(t *testing.T) {
	mock := testutil.NewAeroDataBox()
	defer mock.Close()

	info, err := newAeroClient(t, mock).FetchAircraft(context.Background(), "a1b2c3")
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3", info.ICAO24)
	assert.Equal(t, "N123DL", info.Registration)
	assert.Equal(t, "B739", info.TypeCode)
	assert.Equal(t, "Boeing 737-900ER", info.TypeName)
	assert.Equal(t, int64(180), info.Seats)
	assert.True(t, info.Active)
	assert.True(t, info.Verified)
	assert.False(t, info.Freighter)
}

func TestAeroDataBox_Malformed(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"flight scalar", testutil.AeroFlightPath, `"nope"`},
		{"flight error envelope", testutil.AeroFlightPath, `{"message":"You are not subscribed to this API."}`},
		{"flight list of scalars", testutil.AeroFlightPath, `[42]`},
		{"flight without identity", testutil.AeroFlightPath, `[{"status":"Unknown","number":""}]`},
		{"aircraft array", testutil.AeroAircraftPath, `[]`},
		{"aircraft without identity", testutil.AeroAircraftPath, `{"model":"A320"}`},
		{"invalid json", testutil.AeroAircraftPath, `{"reg":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse(tt.path, testutil.NewJSONResponse(tt.body))
			c := newAeroClient(t, mock)

			var err error
			if tt.path == testutil.AeroFlightPath {
				_, err = c.FetchFlight(context.Background(), "DAL123")
			} else {
				_, err = c.FetchAircraft(context.Background(), "a1b2c3")
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, upstream.ErrMalformedPayload)
		})
	}
}
