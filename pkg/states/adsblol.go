package states

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

const (
	// DefaultADSBLolBaseURL is the public adsb.lol API root.
	DefaultADSBLolBaseURL = "https://api.adsb.lol"

	// DefaultADSBLolTimeout bounds a secondary-provider call.
	DefaultADSBLolTimeout = 10 * time.Second

	// MaxRadiusNM is the largest radius the point endpoint accepts.
	MaxRadiusNM = 250
)

// adsbLolResponse mirrors /v2/point/{lat}/{lon}/{radius}.
type adsbLolResponse struct {
	Aircraft []adsbLolAircraft `json:"ac"`
	Now      float64           `json:"now"` // epoch milliseconds
	Msg      string            `json:"msg"`
}

// adsbLolAircraft is one entry of the flat aircraft list. Units are the
// readsb ones: feet, knots, feet per minute.
type adsbLolAircraft struct {
	Hex      string       `json:"hex"`
	Flight   *string      `json:"flight"`
	Lat      *float64     `json:"lat"`
	Lon      *float64     `json:"lon"`
	AltBaro  baroAltitude `json:"alt_baro"`
	AltGeom  *float64     `json:"alt_geom"`
	GS       *float64     `json:"gs"`
	Track    *float64     `json:"track"`
	BaroRate *float64     `json:"baro_rate"`
	GeomRate *float64     `json:"geom_rate"`
	Squawk   *string      `json:"squawk"`
	Seen     *float64     `json:"seen"`     // seconds since any message
	SeenPos  *float64     `json:"seen_pos"` // seconds since last position
	Type     *string      `json:"t"`
}

// baroAltitude is either a number of feet or the string "ground".
type baroAltitude struct {
	Feet   *float64
	Ground bool
}

func (a *baroAltitude) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		a.Ground = strings.EqualFold(s, "ground")
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("alt_baro: %w", err)
	}
	a.Feet = &f
	return nil
}

// ADSBLolClient is the secondary states provider.
type ADSBLolClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewADSBLolClient creates the secondary provider client.
func NewADSBLolClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger zerolog.Logger) *ADSBLolClient {
	if baseURL == "" {
		baseURL = DefaultADSBLolBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultADSBLolTimeout
	}
	return &ADSBLolClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *ADSBLolClient) Name() string { return ProviderADSBLol }

// FetchStates queries the circle around the bbox centre whose radius is
// the bbox half-diagonal, then keeps aircraft inside the bbox.
func (c *ADSBLolClient) FetchStates(ctx context.Context, bbox geo.BBox) (int64, []StateRecord, error) {
	ctx, cancel := upstream.WithTimeout(ctx, c.timeout)
	defer cancel()

	center := bbox.Center()
	radius := RadiusNM(bbox)
	endpoint := fmt.Sprintf("%s/v2/point/%s/%s/%d", c.baseURL, formatCoord(center.Lat), formatCoord(center.Lon), radius)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create adsb.lol request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := upstream.Do(c.httpClient, req, ProviderADSBLol)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, nil, upstream.StatusError(ProviderADSBLol, resp)
	}

	var raw adsbLolResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, upstream.TransportError(ProviderADSBLol, ctx.Err())
		}
		return 0, nil, upstream.MalformedError(ProviderADSBLol, resp.StatusCode, err)
	}
	if raw.Aircraft == nil && raw.Now == 0 {
		return 0, nil, upstream.MalformedError(ProviderADSBLol, resp.StatusCode, errors.New("missing ac and now"))
	}

	nowSec := int64(raw.Now / 1000)
	if nowSec == 0 {
		nowSec = time.Now().Unix()
	}

	records := make([]StateRecord, 0, len(raw.Aircraft))
	for _, ac := range raw.Aircraft {
		r, ok := AdaptADSBLol(ac, nowSec)
		if !ok || !bbox.Contains(geo.Point{Lat: *r.Latitude, Lon: *r.Longitude}) {
			continue
		}
		records = append(records, r)
	}

	c.logger.Debug().Int("aircraft", len(raw.Aircraft)).Int("kept", len(records)).Int("radius_nm", radius).Msg("adsb.lol states adapted")
	return nowSec, records, nil
}

// RadiusNM is the query radius covering bbox: its half-diagonal rounded up,
// at least 1 and at most MaxRadiusNM.
func RadiusNM(bbox geo.BBox) int {
	r := int(math.Ceil(bbox.HalfDiagonalNM()))
	return max(1, min(r, MaxRadiusNM))
}

// AdaptADSBLol maps one secondary-provider aircraft into the primary's
// record shape field by field. nowSec is the response time in epoch
// seconds. It reports false when the aircraft has no identifier or no
// finite position.
func AdaptADSBLol(ac adsbLolAircraft, nowSec int64) (StateRecord, bool) {
	r := StateRecord{
		ICAO24:       strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ac.Hex), "~")),
		Callsign:     trimmed(ac.Flight),
		TimePosition: ago(nowSec, ac.SeenPos),
		LastContact:  ago(nowSec, ac.Seen),
		Longitude:    finitePtr(ac.Lon),
		Latitude:     finitePtr(ac.Lat),
		BaroAltitude: scaled(ac.AltBaro.Feet, FeetToMeters),
		OnGround:     ac.AltBaro.Ground,
		Velocity:     scaled(ac.GS, KnotsToMps),
		TrueTrack:    finitePtr(ac.Track),
		GeoAltitude:  scaled(ac.AltGeom, FeetToMeters),
		Squawk:       trimmed(ac.Squawk),
		TypeHint:     trimmed(ac.Type),
	}

	rate := ac.BaroRate
	if finitePtr(rate) == nil {
		rate = ac.GeomRate
	}
	r.VerticalRate = scaled(rate, FpmToMps)

	if r.OnGround {
		// Ground traffic reports no barometric altitude.
		r.BaroAltitude = nil
	}

	return r, r.Valid()
}

func ago(nowSec int64, seconds *float64) *int64 {
	if seconds = finitePtr(seconds); seconds == nil {
		return nil
	}
	t := nowSec - int64(math.Round(*seconds))
	return &t
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
