package provider

import (
	"testing"

	"github.com/yo-run/yo/internal/breaker"
	"github.com/yo-run/yo/internal/config"
)

func testRouterConfig() *config.Config {
	return &config.Config{
		Model: config.ModelConfig{Name: "vllm/local-model"},
		Providers: config.ProvidersConfig{
			VLLM: config.ProviderConfig{APIBase: "http://localhost:8000/v1"},
		},
		Routing: config.RoutingConfig{
			Fallbacks: map[string][]string{"vllm": {"gemini-cli/gemini-2.5-flash"}},
		},
	}
}

func TestRouterChainOrdersPrimaryThenFallback(t *testing.T) {
	r := NewRouter(testRouterConfig(), breaker.NewRegistry(breaker.DefaultConfig()))
	routes, err := r.Chain("main", config.PrivacyStandard)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("expected primary + 1 fallback, got %d", len(routes))
	}
	if routes[0].Backend != "vllm" {
		t.Fatalf("expected primary route first, got %q", routes[0].Backend)
	}
}

func TestRouterSkipsOpenCircuitBackend(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, RecoveryTimeout: 1000000, HalfOpenProbes: 1})
	breakers.Record("vllm", breaker.Failure, 0)
	r := NewRouter(testRouterConfig(), breakers)
	routes, err := r.Chain("main", config.PrivacyStandard)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	for _, rt := range routes {
		if rt.Backend == "vllm" {
			t.Fatal("expected open-circuited primary backend to be skipped")
		}
	}
}

func TestRouterEnforcesPrivacyFloor(t *testing.T) {
	cfg := testRouterConfig()
	cfg.Backends = []config.BackendConfig{{Name: "vllm", ZeroDataRetention: false}}
	r := NewRouter(cfg, breaker.NewRegistry(breaker.DefaultConfig()))
	_, err := r.Chain("main", config.PrivacyStrict)
	if err == nil {
		t.Fatal("expected strict privacy to reject a non-zero-data-retention backend chain with no admissible route")
	}
}
