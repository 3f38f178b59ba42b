package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// WindowLimit caps the number of requests and the total token volume
// allowed within one rolling Window.
type WindowLimit struct {
	Window      Window
	MaxRequests int
	MaxTokens   int
}

// WindowConfig configures a windowEnforcer: one WindowLimit per rolling
// period to track, applied uniformly across every provider/model/user
// key the enforcer sees.
type WindowConfig struct {
	Limits []WindowLimit
}

type bucketPair struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// windowEnforcer tracks rolling minute/hour/day/month request and
// token-volume limits using a token bucket per window per
// provider/model/user key. It implements Enforcer.
type windowEnforcer struct {
	cfg WindowConfig

	mu      sync.Mutex
	buckets map[string]map[Window]*bucketPair
}

// NewWindowEnforcer builds an Enforcer that rate-limits by rolling
// window, independent of pricing or token-counting collaborators.
func NewWindowEnforcer(cfg WindowConfig) Enforcer {
	return &windowEnforcer{cfg: cfg, buckets: make(map[string]map[Window]*bucketPair)}
}

func key(provider, model, user string) string {
	return provider + "|" + model + "|" + user
}

func (e *windowEnforcer) pairsFor(k string) map[Window]*bucketPair {
	e.mu.Lock()
	defer e.mu.Unlock()

	pairs, ok := e.buckets[k]
	if ok {
		return pairs
	}

	pairs = make(map[Window]*bucketPair, len(e.cfg.Limits))
	for _, limit := range e.cfg.Limits {
		duration := WindowDuration(limit.Window)
		pairs[limit.Window] = &bucketPair{
			requests: rate.NewLimiter(rate.Limit(float64(limit.MaxRequests)/duration.Seconds()), max(limit.MaxRequests, 1)),
			tokens:   rate.NewLimiter(rate.Limit(float64(limit.MaxTokens)/duration.Seconds()), max(limit.MaxTokens, 1)),
		}
	}
	e.buckets[k] = pairs
	return pairs
}

func (e *windowEnforcer) CheckRequestAllowed(ctx context.Context, provider, model string, usage TokenUsage, cost CostBreakdown, user string) (bool, error) {
	pairs := e.pairsFor(key(provider, model, user))

	for _, limit := range e.cfg.Limits {
		pair, ok := pairs[limit.Window]
		if !ok {
			continue
		}
		now := time.Now()
		if !pair.requests.AllowN(now, 1) {
			return false, nil
		}
		if usage.Total() > 0 && !pair.tokens.AllowN(now, usage.Total()) {
			return false, nil
		}
	}
	return true, nil
}

func (e *windowEnforcer) RecordUsage(ctx context.Context, provider, model string, usage TokenUsage, cost CostBreakdown, user string) error {
	if provider == "" || model == "" {
		return flowerrors.NewValidation("limits", fmt.Sprintf("provider and model are required (got %q, %q)", provider, model))
	}
	// CheckRequestAllowed already reserved capacity via AllowN; RecordUsage
	// exists for collaborators that need a record of actual post-hoc usage
	// (billing reconciliation, audit trails) rather than further gating.
	return nil
}
