package market

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"nftstorefront/internal/metrics"
)

// ErrUnavailable is returned when every candidate endpoint was exhausted.
var ErrUnavailable = errors.New("market: no candidate endpoint returned a usable listing array")

// Fetcher performs one read-only GET and returns the parsed body.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (Record, error)
}

// Candidate is one endpoint that might serve the current listing set.
type Candidate struct {
	Name string
	URL  string
	// Params builds the query for the current sort key. Nil means no query.
	Params func(sort SortKey) url.Values
}

// SortParam is a Candidate.Params builder that forwards the sort key as the
// filter query parameter.
func SortParam(sort SortKey) url.Values {
	if sort == SortNone {
		return nil
	}
	return url.Values{"filter": {string(sort)}}
}

// Resolution is the payload of the first usable candidate.
type Resolution struct {
	Payload     Record
	Records     []Record
	SourceIndex int
	Source      string
}

// EndpointResolver walks candidates strictly in order.
type EndpointResolver struct {
	fetcher Fetcher
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewEndpointResolver constructs a resolver. logger and reg may be nil.
func NewEndpointResolver(fetcher Fetcher, logger *zap.Logger, reg *metrics.Registry) *EndpointResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndpointResolver{fetcher: fetcher, logger: logger, metrics: reg}
}

// ResolveFirstUsable queries each candidate once, in order, until one yields
// a listing array. Transport failures and foreign arrays both advance to the
// next candidate; a payload without any container is an empty result. When all fail the joined causes are wrapped in
// ErrUnavailable. A cancelled context stops the walk with ctx.Err().
func (r *EndpointResolver) ResolveFirstUsable(ctx context.Context, candidates []Candidate, sort SortKey) (Resolution, error) {
	var failures []error
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}

		var params url.Values
		if c.Params != nil {
			params = c.Params(sort)
		}

		payload, err := r.fetcher.Get(ctx, c.URL, params)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Resolution{}, ctxErr
			}
			r.record(c.Name, metrics.OutcomeTransport)
			r.logger.Warn("candidate endpoint failed", zap.String("candidate", c.Name), zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}

		records, shape := DetectListings(payload)
		if shape == ShapeForeign {
			r.record(c.Name, metrics.OutcomeShape)
			r.logger.Warn("candidate endpoint returned unrelated shape", zap.String("candidate", c.Name))
			failures = append(failures, fmt.Errorf("%s: %w", c.Name, ErrShapeMismatch))
			continue
		}

		r.record(c.Name, metrics.OutcomeOK)
		return Resolution{Payload: payload, Records: records, SourceIndex: i, Source: c.Name}, nil
	}

	if len(failures) == 0 {
		return Resolution{}, fmt.Errorf("%w: no candidates configured", ErrUnavailable)
	}
	return Resolution{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(failures...))
}

func (r *EndpointResolver) record(candidate, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.UpstreamAttempt.WithLabelValues(candidate, outcome).Inc()
}
