package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

const (
	// ProviderAeroDataBox tags enrichment payloads.
	ProviderAeroDataBox = "aerodatabox"

	// DefaultAeroDataBoxHost is the RapidAPI host.
	DefaultAeroDataBoxHost = "aerodatabox.p.rapidapi.com"

	// DefaultAeroDataBoxTimeout bounds one metered call.
	DefaultAeroDataBoxTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when the metered provider has no API key.
var ErrNotConfigured = errors.New("aerodatabox api key not configured")

// FlightInfo is the route metadata for one callsign.
type FlightInfo struct {
	Callsign      string `json:"callsign"`
	Number        string `json:"number,omitempty"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	OriginName    string `json:"originName,omitempty"`
	DestName      string `json:"destinationName,omitempty"`
	AirlineName   string `json:"airlineName"`
	AirlineICAO   string `json:"airlineIcao"`
	AirlineIATA   string `json:"airlineIata"`
	AircraftModel string `json:"aircraftModel"`
	Route         string `json:"route"`
	Verified      bool   `json:"verified"`
}

// AircraftInfo is the airframe metadata for one ICAO24 address.
type AircraftInfo struct {
	ICAO24       string `json:"icao24"`
	Registration string `json:"registration,omitempty"`
	Model        string `json:"model,omitempty"`
	ModelCode    string `json:"modelCode,omitempty"`
	TypeName     string `json:"typeName,omitempty"`
	TypeCode     string `json:"typeCode,omitempty"`
	AirlineName  string `json:"airlineName,omitempty"`
	Seats        int64  `json:"seats,omitempty"`
	Freighter    bool   `json:"freighter"`
	Active       bool   `json:"active"`
	Verified     bool   `json:"verified"`
}

// Source is a metered enrichment provider.
type Source interface {
	FetchFlight(ctx context.Context, callsign string) (*FlightInfo, error)
	FetchAircraft(ctx context.Context, icao24 string) (*AircraftInfo, error)
}

// AeroDataBoxConfig configures the RapidAPI-hosted client.
type AeroDataBoxConfig struct {
	APIKey  string
	Host    string
	BaseURL string
	Timeout time.Duration
}

// AeroDataBoxClient calls AeroDataBox through RapidAPI.
type AeroDataBoxClient struct {
	cfg        AeroDataBoxConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewAeroDataBoxClient creates a client. It returns ErrNotConfigured when
// no API key is set.
func NewAeroDataBoxClient(cfg AeroDataBoxConfig, httpClient *http.Client, logger zerolog.Logger) (*AeroDataBoxClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Host == "" {
		cfg.Host = DefaultAeroDataBoxHost
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + cfg.Host
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAeroDataBoxTimeout
	}
	return &AeroDataBoxClient{cfg: cfg, httpClient: httpClient, logger: logger}, nil
}

// FetchFlight looks up the most recent flight flying callsign. An empty
// result list is reported as ErrorClassNotFound.
func (c *AeroDataBoxClient) FetchFlight(ctx context.Context, callsign string) (*FlightInfo, error) {
	body, status, err := c.get(ctx, "/flights/callsign/"+url.PathEscape(callsign))
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	var first gjson.Result
	switch {
	case doc.IsArray():
		if len(doc.Array()) == 0 {
			return nil, notFound(status, "no flights for callsign")
		}
		first = doc.Array()[0]
	case doc.IsObject():
		first = doc
	default:
		return nil, upstream.MalformedError(ProviderAeroDataBox, status, errors.New("flight payload is not an object or array"))
	}
	if !first.IsObject() {
		return nil, upstream.MalformedError(ProviderAeroDataBox, status, errors.New("flight entry is not an object"))
	}
	if !hasFlightIdentity(first) {
		return nil, upstream.MalformedError(ProviderAeroDataBox, status, errors.New("flight payload has no number, callSign or airports"))
	}

	info := &FlightInfo{
		Callsign:      firstNonEmpty(first.Get("callSign").String(), callsign),
		Number:        first.Get("number").String(),
		Origin:        airportCode(first.Get("departure.airport")),
		Destination:   airportCode(first.Get("arrival.airport")),
		OriginName:    airportName(first.Get("departure.airport")),
		DestName:      airportName(first.Get("arrival.airport")),
		AirlineName:   first.Get("airline.name").String(),
		AirlineICAO:   first.Get("airline.icao").String(),
		AirlineIATA:   first.Get("airline.iata").String(),
		AircraftModel: first.Get("aircraft.model").String(),
	}
	if info.Origin != "" && info.Destination != "" {
		info.Route = info.Origin + "-" + info.Destination
		info.Verified = true
	}
	return info, nil
}

// FetchAircraft looks up an airframe by its ICAO24 address.
func (c *AeroDataBoxClient) FetchAircraft(ctx context.Context, icao24 string) (*AircraftInfo, error) {
	body, status, err := c.get(ctx, "/aircrafts/icao24/"+url.PathEscape(icao24))
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, upstream.MalformedError(ProviderAeroDataBox, status, errors.New("aircraft payload is not an object"))
	}
	if !doc.Get("reg").Exists() && !doc.Get("hexIcao").Exists() {
		return nil, upstream.MalformedError(ProviderAeroDataBox, status, errors.New("aircraft payload has no reg or hexIcao"))
	}

	return &AircraftInfo{
		ICAO24:       strings.ToLower(firstNonEmpty(doc.Get("hexIcao").String(), icao24)),
		Registration: doc.Get("reg").String(),
		Model:        doc.Get("model").String(),
		ModelCode:    doc.Get("modelCode").String(),
		TypeName:     doc.Get("typeName").String(),
		TypeCode:     doc.Get("icaoCode").String(),
		AirlineName:  doc.Get("airlineName").String(),
		Seats:        doc.Get("numSeats").Int(),
		Freighter:    doc.Get("isFreighter").Bool(),
		Active:       doc.Get("active").Bool(),
		Verified:     doc.Get("verified").Bool(),
	}, nil
}

func (c *AeroDataBoxClient) get(ctx context.Context, path string) ([]byte, int, error) {
	ctx, cancel := upstream.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create aerodatabox request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", c.cfg.APIKey)
	req.Header.Set("X-RapidAPI-Host", c.cfg.Host)
	req.Header.Set("Accept", "application/json")

	resp, err := upstream.Do(c.httpClient, req, ProviderAeroDataBox)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, upstream.StatusError(ProviderAeroDataBox, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, upstream.TransportError(ProviderAeroDataBox, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, resp.StatusCode, upstream.MalformedError(ProviderAeroDataBox, resp.StatusCode, errors.New("invalid json"))
	}
	return body, resp.StatusCode, nil
}

// hasFlightIdentity reports whether a flight entry names the flight or one
// of its airports. Error envelopes served with 200 carry none of these.
func hasFlightIdentity(f gjson.Result) bool {
	for _, path := range []string{"number", "callSign", "departure.airport", "arrival.airport"} {
		v := f.Get(path)
		if v.IsObject() || (v.Exists() && v.String() != "") {
			return true
		}
	}
	return false
}

func notFound(status int, msg string) error {
	return &upstream.UpstreamError{
		Provider:   ProviderAeroDataBox,
		StatusCode: status,
		Class:      upstream.ErrorClassNotFound,
		Message:    msg,
	}
}

func airportCode(a gjson.Result) string {
	return firstNonEmpty(a.Get("iata").String(), a.Get("icao").String())
}

func airportName(a gjson.Result) string {
	return firstNonEmpty(a.Get("municipalityName").String(), a.Get("name").String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
