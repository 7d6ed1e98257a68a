package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yo-run/yo/internal/breaker"
	"github.com/yo-run/yo/internal/config"
)

// Route is one candidate in a fallback chain: a resolved provider paired
// with the backend name breaker/pricing lookups key on.
type Route struct {
	Backend  string
	Model    string
	Provider LLMProvider
}

// Router applies circuit-breaker admission, privacy-level filtering, and
// retry/fallback traversal around a chain of candidate backends for one
// agent. It is the piece resolver.go's per-call Resolve/
// ResolveFallbacks left unwired: those build the candidate providers, this
// decides which of them are admissible right now and drives the actual
// call.
type Router struct {
	cfg      *config.Config
	breakers *breaker.Registry
	policy   RetryPolicy
}

// NewRouter builds a Router. breakers may be nil, in which case every
// backend is always admitted (no circuit protection).
func NewRouter(cfg *config.Config, breakers *breaker.Registry) *Router {
	return &Router{cfg: cfg, breakers: breakers, policy: DefaultRetryPolicy()}
}

// backendPrivacyTier reports the highest privacy level a backend may serve.
// Backends configured with ZeroDataRetention can serve strict sessions;
// everything else is capped at "standard" (default-deny posture).
func backendPrivacyTier(cfg *config.Config, backend string) config.PrivacyLevel {
	for _, b := range cfg.Backends {
		if strings.EqualFold(b.Name, backend) {
			if b.ZeroDataRetention {
				return config.PrivacyStrict
			}
			return config.PrivacyStandard
		}
	}
	return config.PrivacyStandard
}

func privacyRank(l config.PrivacyLevel) int {
	switch l {
	case config.PrivacySensitive:
		return 1
	case config.PrivacyStrict:
		return 2
	default:
		return 0
	}
}

// admissible reports whether backend may serve a session at the given
// privacy level and is not presently open-circuited.
func (r *Router) admissible(backend string, level config.PrivacyLevel) bool {
	if privacyRank(backendPrivacyTier(r.cfg, backend)) < privacyRank(level) {
		return false
	}
	if r.breakers == nil {
		return true
	}
	return r.breakers.Decision(backend) != breaker.Reject
}

// Chain returns the ordered list of candidate routes for agentID: the
// primary resolved provider (per resolveModelString) followed by
// routing.fallbacks[primary-backend], each filtered against level and the
// circuit breaker. Routes that fail to construct or aren't currently
// admissible are dropped rather than erroring, so a single bad backend
// config doesn't take down the whole chain.
func (r *Router) Chain(agentID string, level config.PrivacyLevel) ([]Route, error) {
	modelStr := resolveModelString(r.cfg, agentID)
	if modelStr == "" {
		return nil, fmt.Errorf("router: no model configured for agent %q", agentID)
	}
	primaryBackend, primaryModel := ParseModelString(modelStr)
	if primaryBackend == "" {
		primaryBackend = "openai"
		primaryModel = modelStr
	}
	primaryBackend = NormalizeProviderID(primaryBackend, r.cfg)

	seen := map[string]bool{}
	var routes []Route
	add := func(backend, model string) {
		key := backend + "@" + model
		if seen[key] || !r.admissible(backend, level) {
			return
		}
		prov, err := buildProvider(r.cfg, backend, model)
		if err != nil {
			return
		}
		seen[key] = true
		routes = append(routes, Route{Backend: backend, Model: model, Provider: prov})
	}

	add(primaryBackend, primaryModel)
	for _, fb := range r.cfg.Routing.Fallbacks[primaryBackend] {
		fbBackend, fbModel := ParseModelString(fb)
		if fbBackend == "" {
			fbBackend, fbModel = primaryBackend, fb
		}
		add(NormalizeProviderID(fbBackend, r.cfg), fbModel)
	}
	if r.cfg.Routing.AutoLocalFallback && r.cfg.Routing.LocalTarget != "" {
		lb, lm := ParseModelString(r.cfg.Routing.LocalTarget)
		if lb == "" {
			lb, lm = "local", r.cfg.Routing.LocalTarget
		}
		add(NormalizeProviderID(lb, r.cfg), lm)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("router: no admissible backend for agent %q at privacy level %q", agentID, level)
	}
	return routes, nil
}

// Chat drives req through the fallback chain: for each admissible route, it
// retries transient failures per r.policy, records the outcome in the
// circuit breaker, and returns on the first success. If every route fails,
// the last error is returned.
func (r *Router) Chat(ctx context.Context, agentID string, level config.PrivacyLevel, req *ChatRequest) (*ChatResponse, Route, Cost, error) {
	routes, err := r.Chain(agentID, level)
	if err != nil {
		return nil, Route{}, Cost{}, err
	}
	var lastErr error
	for _, route := range routes {
		req.Model = route.Model
		var resp *ChatResponse
		start := time.Now()
		err := Retry(ctx, r.policy, func(attempt int) error {
			var callErr error
			resp, callErr = route.Provider.Chat(ctx, req)
			return callErr
		})
		latency := time.Since(start)
		if r.breakers != nil {
			if err != nil {
				r.breakers.Record(route.Backend, breaker.Failure, latency)
				r.breakers.SetLastError(route.Backend, err.Error())
			} else {
				r.breakers.Record(route.Backend, breaker.Success, latency)
			}
		}
		if err != nil {
			lastErr = err
			continue
		}
		cost := ComputeCost(route.Backend, route.Model, resp.Usage)
		UpdateRateLimitCache(route.Backend, &resp.Usage)
		return resp, route, cost, nil
	}
	return nil, Route{}, Cost{}, fmt.Errorf("router: all routes exhausted for agent %q: %w", agentID, lastErr)
}
