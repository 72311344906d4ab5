package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/eventbus"
	"github.com/cascadeai/modelmesh/internal/pipeline"
	"github.com/cascadeai/modelmesh/internal/registry"
	"github.com/cascadeai/modelmesh/internal/router"
)

// fakeRegistry satisfies both this package's Registry interface and
// router.Registry, so a single fake can back an Engine+Router pair in tests.
type fakeRegistry struct {
	models   map[string]registry.DiscoveredModel
	settings registry.RuntimeSettings
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		models:   make(map[string]registry.DiscoveredModel),
		settings: registry.DefaultRuntimeSettings(),
	}
}

func (f *fakeRegistry) add(id string, tier registry.Tier, srv *httptest.Server) {
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	f.models[id] = registry.DiscoveredModel{
		ModelID: id, Tier: tier, Port: port, Enabled: true,
		SizeParamsB: 7, Quantization: "Q4_K_M",
	}
}

func (f *fakeRegistry) Get(modelID string) (registry.DiscoveredModel, error) {
	m, ok := f.models[modelID]
	if !ok {
		return registry.DiscoveredModel{}, errors.UnknownModel(modelID)
	}
	return m, nil
}

func (f *fakeRegistry) GetEnabled() []registry.DiscoveredModel {
	out := make([]registry.DiscoveredModel, 0, len(f.models))
	for _, m := range f.models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeRegistry) Settings() registry.RuntimeSettings { return f.settings }

type fakeSupervisor struct{}

func (fakeSupervisor) IsReady(modelID string) bool { return true }

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sequenceServer returns contents[0], contents[1], ... on successive calls,
// repeating the last entry once exhausted — used to script a debate where
// early turns diverge and later turns converge.
func sequenceServer(t *testing.T, contents []string) *httptest.Server {
	t.Helper()
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := calls
		if idx >= len(contents) {
			idx = len(contents) - 1
		}
		calls++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": contents[idx]}, "finish_reason": "stop"},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(reg *fakeRegistry) *Engine {
	rt := router.New(reg, fakeSupervisor{})
	tr := pipeline.New(eventbus.New(eventbus.DefaultBufferSize, nil), nil)
	return New(reg, fakeSupervisor{}, rt, nil, tr, nil, nil)
}

func TestSimpleModeReturnsModelOutput(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("fast-a", registry.TierFast, chatServer(t, "42"))
	e := newTestEngine(reg)

	resp, err := e.Query(context.Background(), QueryRequest{Query: "what is 6*7"})
	require.NoError(t, err)
	require.Equal(t, "42", resp.ResponseText)
	require.NotEmpty(t, resp.ID)
}

func TestBenchmarkParallelPartialSuccess(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("fast-a", registry.TierFast, chatServer(t, "a"))
	reg.add("fast-b", registry.TierFast, chatServer(t, "b"))
	reg.add("fast-c", registry.TierFast, failingServer(t))
	e := newTestEngine(reg)

	resp, err := e.Query(context.Background(), QueryRequest{Query: "q", Mode: ModeBenchmarkParallel})
	require.NoError(t, err)
	require.NotNil(t, resp.Metadata.Benchmark)
	require.Equal(t, 3, resp.Metadata.Benchmark.TotalModels)
	require.Equal(t, 2, resp.Metadata.Benchmark.SuccessfulModels)

	failed := 0
	for _, r := range resp.Metadata.Benchmark.Results {
		if !r.Success {
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestBenchmarkAllModelsFailIsFatal(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("fast-a", registry.TierFast, failingServer(t))
	e := newTestEngine(reg)

	_, err := e.Query(context.Background(), QueryRequest{Query: "q", Mode: ModeBenchmarkSerial})
	require.Error(t, err)
}

func TestCouncilAdversarialReachesStalemate(t *testing.T) {
	reg := newFakeRegistry()
	// Turns 1 and 2 diverge, but turns 3 and 4 repeat the identical sentence,
	// so the first below-threshold turn-pair (turn3 vs turn4) should end the
	// debate at exactly 4 turns: a single such measurement is sufficient,
	// matching consensus mode's termination rule.
	reg.add("balanced-a", registry.TierBalanced, sequenceServer(t, []string{
		"opening argument for the proposal with several distinct points",
		"opposing rebuttal raising entirely different unrelated concerns",
		"the position remains the same as before",
		"the position remains the same as before",
	}))
	e := newTestEngine(reg)

	resp, err := e.Query(context.Background(), QueryRequest{
		Query:              "should we do X",
		Mode:               ModeCouncilAdversarial,
		MaxTurns:           10,
		DynamicTermination: true,
		ForcedMode:         "moderate",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Metadata.Council)
	require.Equal(t, "stalemate", resp.Metadata.Council.TerminationReason)
	require.Len(t, resp.Metadata.Council.Turns, 4)
}

func TestCouncilMaxTurnsTerminatesWithoutDynamicTermination(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("balanced-a", registry.TierBalanced, chatServer(t, "a fresh distinct argument each time"))
	e := newTestEngine(reg)

	resp, err := e.Query(context.Background(), QueryRequest{
		Query:      "debate this",
		Mode:       ModeCouncilConsensus,
		MaxTurns:   3,
		ForcedMode: "moderate",
	})
	require.NoError(t, err)
	require.Equal(t, "max_turns", resp.Metadata.Council.TerminationReason)
	require.Len(t, resp.Metadata.Council.Turns, 3)
}

func TestQueryHonorsDeadline(t *testing.T) {
	reg := newFakeRegistry()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "late"}, "finish_reason": "stop"},
			},
		})
	}))
	t.Cleanup(slow.Close)
	reg.add("fast-a", registry.TierFast, slow)
	e := newTestEngine(reg)

	_, err := e.Query(context.Background(), QueryRequest{Query: "q", Deadline: 20 * time.Millisecond})
	require.Error(t, err)
}
