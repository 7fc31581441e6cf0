package states

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/token"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

const (
	// DefaultOpenSkyBaseURL is the public REST API root.
	DefaultOpenSkyBaseURL = "https://opensky-network.org/api"

	// DefaultOpenSkyTimeout bounds a states call. It must exceed the token
	// timeout so a slow token fetch cannot starve the states request.
	DefaultOpenSkyTimeout = 12 * time.Second
)

// openSkyResponse mirrors the JSON shape returned by /states/all. Each state
// is a positional array of mixed types.
type openSkyResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// OpenSkyClient is the primary states provider.
type OpenSkyClient struct {
	baseURL    string
	timeout    time.Duration
	tokens     *token.Manager
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOpenSkyClient creates the primary provider client. tokens supplies the
// auth mode and credentials.
func NewOpenSkyClient(baseURL string, timeout time.Duration, tokens *token.Manager, httpClient *http.Client, logger zerolog.Logger) *OpenSkyClient {
	if baseURL == "" {
		baseURL = DefaultOpenSkyBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultOpenSkyTimeout
	}
	return &OpenSkyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *OpenSkyClient) Name() string { return ProviderOpenSky }

// AuthMode reports the credential mode in use.
func (c *OpenSkyClient) AuthMode() token.Mode {
	return c.tokens.Mode()
}

// FetchStates returns the state vectors inside bbox. A 401 under OAuth
// clears the cached token and retries exactly once.
func (c *OpenSkyClient) FetchStates(ctx context.Context, bbox geo.BBox) (int64, []StateRecord, error) {
	ts, records, err := c.fetch(ctx, bbox)
	if err != nil && c.tokens.Mode() == token.ModeOAuth && upstream.StatusOf(err) == http.StatusUnauthorized {
		c.logger.Warn().Msg("OpenSky rejected token, refreshing and retrying once")
		c.tokens.Clear()
		return c.fetch(ctx, bbox)
	}
	return ts, records, err
}

func (c *OpenSkyClient) fetch(ctx context.Context, bbox geo.BBox) (int64, []StateRecord, error) {
	ctx, cancel := upstream.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("lamin", formatCoord(bbox.LaMin))
	q.Set("lomin", formatCoord(bbox.LoMin))
	q.Set("lamax", formatCoord(bbox.LaMax))
	q.Set("lomax", formatCoord(bbox.LoMax))
	q.Set("extended", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/states/all?"+q.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create states request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.tokens.Apply(ctx, req); err != nil {
		// Anonymous access still works, with tighter provider limits.
		c.logger.Warn().Err(err).Msg("No OpenSky token, calling anonymously")
	}

	resp, err := upstream.Do(c.httpClient, req, ProviderOpenSky)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, nil, upstream.StatusError(ProviderOpenSky, resp)
	}

	var raw openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, upstream.TransportError(ProviderOpenSky, ctx.Err())
		}
		return 0, nil, upstream.MalformedError(ProviderOpenSky, resp.StatusCode, err)
	}

	return raw.Time, parseOpenSkyStates(raw.States), nil
}

// parseOpenSkyStates converts positional rows, dropping rows that are too
// short or lack an identifier or position.
func parseOpenSkyStates(rows [][]any) []StateRecord {
	records := make([]StateRecord, 0, len(rows))
	for _, s := range rows {
		if len(s) < 17 {
			continue
		}
		r := StateRecord{
			ICAO24:        strings.ToLower(stringVal(s[0])),
			Callsign:      stringPtr(s[1]),
			OriginCountry: stringPtr(s[2]),
			TimePosition:  intPtr(s[3]),
			LastContact:   intPtr(s[4]),
			Longitude:     floatPtr(s[5]),
			Latitude:      floatPtr(s[6]),
			BaroAltitude:  floatPtr(s[7]),
			OnGround:      boolVal(s[8]),
			Velocity:      floatPtr(s[9]),
			TrueTrack:     floatPtr(s[10]),
			VerticalRate:  floatPtr(s[11]),
			GeoAltitude:   floatPtr(s[13]),
			Squawk:        stringPtr(s[14]),
			SPI:           boolVal(s[15]),
		}
		if v := intPtr(s[16]); v != nil {
			r.PositionSrc = int(*v)
		}
		if len(s) > 17 {
			if v := intPtr(s[17]); v != nil {
				cat := int(*v)
				r.Category = &cat
			}
		}
		if !r.Valid() {
			continue
		}
		records = append(records, r)
	}
	return records
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func stringVal(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func boolVal(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

func floatPtr(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return finitePtr(&f)
}

func intPtr(v any) *int64 {
	f, ok := v.(float64)
	if !ok || !finite(f) {
		return nil
	}
	i := int64(f)
	return &i
}
