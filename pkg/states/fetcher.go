package states

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flight-gateway/pkg/geo"
	"github.com/Sternrassler/flight-gateway/pkg/upstream"
)

// ErrBothProvidersFailed is returned when the primary failed over and the
// secondary failed too.
var ErrBothProvidersFailed = errors.New("primary and secondary states providers failed")

var (
	failoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_states_failovers_total",
		Help: "Total switches to the secondary states provider by primary error class",
	}, []string{"class"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightgw_states_fetches_total",
		Help: "Total states fetch cycles by serving provider and result",
	}, []string{"provider", "result"})
)

// Provider fetches state vectors for a bounding box.
type Provider interface {
	Name() string
	FetchStates(ctx context.Context, bbox geo.BBox) (int64, []StateRecord, error)
}

// Result is one completed fetch cycle.
type Result struct {
	Provider string
	Time     int64
	Records  []StateRecord
}

// Payload renders the result for the wire.
func (r *Result) Payload() Payload {
	return NewPayload(r.Time, r.Records)
}

// FetchError carries both provider failures of a cycle. PrimaryStatus is
// the primary's HTTP status (0 for transport failures).
type FetchError struct {
	Primary       error
	Secondary     error
	PrimaryStatus int
}

func (e *FetchError) Error() string {
	if e.Secondary == nil {
		return fmt.Sprintf("states fetch failed: %v", e.Primary)
	}
	return fmt.Sprintf("%v: primary: %v; secondary: %v", ErrBothProvidersFailed, e.Primary, e.Secondary)
}

func (e *FetchError) Unwrap() []error {
	errs := []error{e.Primary}
	if e.Secondary != nil {
		errs = append(errs, ErrBothProvidersFailed, e.Secondary)
	}
	return errs
}

// Fetcher runs the primary → secondary failover chain.
type Fetcher struct {
	primary   Provider
	secondary Provider
	logger    zerolog.Logger
}

// NewFetcher creates a fetcher. secondary may be nil to disable failover.
func NewFetcher(primary, secondary Provider, logger zerolog.Logger) *Fetcher {
	if primary == nil {
		panic("primary provider cannot be nil")
	}
	return &Fetcher{primary: primary, secondary: secondary, logger: logger}
}

// Primary returns the primary provider.
func (f *Fetcher) Primary() Provider {
	return f.primary
}

// FetchStates calls the primary and, on a failover-class error (429, 502,
// 503, 504, timeout, transport), the secondary. Other primary errors are
// returned as they are. Failures come back as *FetchError.
func (f *Fetcher) FetchStates(ctx context.Context, bbox geo.BBox) (*Result, error) {
	ts, records, err := f.primary.FetchStates(ctx, bbox)
	if err == nil {
		fetchesTotal.WithLabelValues(f.primary.Name(), "ok").Inc()
		return &Result{Provider: f.primary.Name(), Time: ts, Records: records}, nil
	}

	class := upstream.ClassOf(err)
	if f.secondary == nil || !upstream.IsFailover(err) {
		fetchesTotal.WithLabelValues(f.primary.Name(), "error").Inc()
		f.logger.Warn().Err(err).Str("provider", f.primary.Name()).Str("error_class", string(class)).Msg("Primary states fetch failed")
		return nil, &FetchError{Primary: err, PrimaryStatus: upstream.StatusOf(err)}
	}

	failoversTotal.WithLabelValues(string(class)).Inc()
	f.logger.Info().Err(err).
		Str("provider", f.secondary.Name()).
		Str("error_class", string(class)).
		Int("status", upstream.StatusOf(err)).
		Msg("Failing over to secondary states provider")

	ts, records, serr := f.secondary.FetchStates(ctx, bbox)
	if serr != nil {
		fetchesTotal.WithLabelValues(f.secondary.Name(), "error").Inc()
		f.logger.Error().Err(serr).Str("provider", f.secondary.Name()).Msg("Secondary states fetch failed")
		return nil, &FetchError{Primary: err, Secondary: serr, PrimaryStatus: upstream.StatusOf(err)}
	}

	fetchesTotal.WithLabelValues(f.secondary.Name(), "ok").Inc()
	return &Result{Provider: f.secondary.Name(), Time: ts, Records: records}, nil
}
