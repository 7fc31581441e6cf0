package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/cache"
	"github.com/Sternrassler/flight-gateway/pkg/enrich"
	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/states"
	"github.com/Sternrassler/flight-gateway/pkg/token"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

// Handler holds the HTTP handlers.
type Handler struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewHandler creates a handler over deps.
func NewHandler(deps Deps, cfg Config, logger zerolog.Logger) *Handler {
	return &Handler{deps: deps, cfg: cfg, now: time.Now, logger: logger}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ok":      true,
		"ts":      h.now().UnixMilli(),
		"version": h.cfg.Version,
	})
}

// TokenHealth handles GET /health/opensky-token. Without credentials it
// answers 500 with a hint; Basic mode needs no token and reports ok.
func (h *Handler) TokenHealth(c echo.Context) error {
	mode := h.deps.Tokens.Mode()
	switch mode {
	case token.ModeNone:
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"mode":  mode,
			"error": "opensky_credentials_missing",
			"hint":  "set OPENSKY_CLIENT_ID and OPENSKY_CLIENT_SECRET (or OPENSKY_USERNAME and OPENSKY_PASSWORD)",
		})
	case token.ModeBasic:
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "mode": mode})
	}

	if _, err := h.deps.Tokens.Fetch(c.Request().Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Token health check failed")
		return c.JSON(http.StatusBadGateway, map[string]any{
			"ok":     false,
			"mode":   mode,
			"error":  "token_fetch_failed",
			"status": upstream.StatusOf(err),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "mode": mode})
}

// StatesHealth handles GET /health/opensky-states: one uncached primary
// fetch of the probe area.
func (h *Handler) StatesHealth(c echo.Context) error {
	mode := h.deps.Tokens.Mode()
	res, err := h.deps.States.Probe(c.Request().Context(), *h.cfg.ProbeBBox)
	if err != nil {
		h.logger.Warn().Err(err).Str("error_class", string(upstream.ClassOf(err))).Msg("States health check failed")
		return c.JSON(http.StatusBadGateway, map[string]any{
			"ok":       false,
			"authMode": mode,
			"status":   upstream.StatusOf(err),
			"error":    string(upstream.ClassOf(err)),
		})
	}

	var sample []any
	if len(res.Records) > 0 {
		sample = res.Records[0].Row()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"authMode": mode,
		"status":   http.StatusOK,
		"count":    len(res.Records),
		"sample":   sample,
	})
}

// States handles GET /opensky/states.
func (h *Handler) States(c echo.Context) error {
	bbox, err := parseBBox(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
	}

	resp, err := h.deps.States.Get(c.Request().Context(), bbox)
	if err != nil {
		status := http.StatusBadGateway
		var fe *states.FetchError
		if errors.As(err, &fe) && fe.PrimaryStatus == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
		c.Response().Header().Set("Cache-Control", "no-store")
		return c.JSON(status, map[string]any{"ok": false, "error": "states_unavailable"})
	}

	h.applyCacheHeaders(c, resp.Entry, resp.CacheStatus)
	return c.JSONBlob(http.StatusOK, resp.Body)
}

// Flight handles GET /flight/:callsign.
func (h *Handler) Flight(c echo.Context) error {
	return h.enrich(c, enrich.KindFlight, c.Param("callsign"))
}

// Aircraft handles GET /aircraft/icao24/:hex.
func (h *Handler) Aircraft(c echo.Context) error {
	return h.enrich(c, enrich.KindAircraft, c.Param("hex"))
}

func (h *Handler) enrich(c echo.Context, kind enrich.Kind, id string) error {
	res, err := h.deps.Enrich.Enrich(c.Request().Context(), kind, id, parsePosition(c))
	if err != nil {
		return h.enrichError(c, kind, err)
	}

	if res.Entry != nil {
		h.applyCacheHeaders(c, res.Entry, res.CacheStatus)
	} else {
		c.Response().Header().Set("Cache-Control", "no-store")
	}

	switch res.Outcome {
	case enrich.OutcomeExhausted:
		return c.NoContent(http.StatusNoContent)
	case enrich.OutcomeRateLimited:
		return c.JSONBlob(http.StatusTooManyRequests, res.Body)
	default:
		return c.JSONBlob(http.StatusOK, res.Body)
	}
}

func (h *Handler) enrichError(c echo.Context, kind enrich.Kind, err error) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	switch {
	case errors.Is(err, enrich.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid_" + idName(kind)})
	case errors.Is(err, enrich.ErrNotConfigured):
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "aerodata_not_configured",
			"hint":  "set AERODATA_API_KEY to enable enrichment",
		})
	case enrich.IsUpstreamFailure(err):
		return c.JSON(http.StatusBadGateway, map[string]any{
			"ok":     false,
			"error":  "aerodata_upstream_error",
			"status": upstream.StatusOf(err),
		})
	default:
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("Enrichment failed")
		return c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal_error"})
	}
}

// AdsTxt handles GET /ads.txt.
func (h *Handler) AdsTxt(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "public, max-age=3600")
	return c.String(http.StatusOK, h.cfg.AdsTxt)
}

// applyCacheHeaders sets X-Provider, X-Cache and Cache-Control. A stale
// fallback is never stored downstream.
func (h *Handler) applyCacheHeaders(c echo.Context, entry *cache.CacheEntry, status string) {
	hdr := c.Response().Header()
	cache.ApplyHeaders(hdr, entry, status, h.now())
	if status == cache.StatusStale {
		hdr.Set("Cache-Control", "no-store")
	}
}

func idName(kind enrich.Kind) string {
	if kind == enrich.KindAircraft {
		return "icao24"
	}
	return "callsign"
}

var errMissingBBox = errors.New("lamin, lomin, lamax and lomax are required")

func parseBBox(c echo.Context) (geo.BBox, error) {
	var vals [4]float64
	for i, name := range []string{"lamin", "lomin", "lamax", "lomax"} {
		raw := c.QueryParam(name)
		if raw == "" {
			return geo.BBox{}, errMissingBBox
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return geo.BBox{}, errors.New(name + " is not a number")
		}
		vals[i] = v
	}
	bbox := geo.BBox{LaMin: vals[0], LoMin: vals[1], LaMax: vals[2], LoMax: vals[3]}
	if err := bbox.Validate(); err != nil {
		return geo.BBox{}, err
	}
	return bbox, nil
}

// parsePosition reads the optional lat/lon/track query parameters. An
// incomplete or unparsable position is treated as absent.
func parsePosition(c echo.Context) *enrich.Position {
	lat, err1 := strconv.ParseFloat(c.QueryParam("lat"), 64)
	lon, err2 := strconv.ParseFloat(c.QueryParam("lon"), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	pos := &enrich.Position{Lat: lat, Lon: lon}
	if track, err := strconv.ParseFloat(c.QueryParam("track"), 64); err == nil {
		pos.Track = &track
	}
	return pos
}
