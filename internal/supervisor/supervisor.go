package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	core "github.com/cascadeai/modelmesh/internal/core/service"
	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/logging"
	"github.com/cascadeai/modelmesh/internal/registry"
	"github.com/cascadeai/modelmesh/internal/resilience"
)

const (
	maxConsecutiveFailures = 5
	maxBackoff             = 60 * time.Second
	defaultReadyTimeout    = 120 * time.Second
	defaultGraceTimeout    = 10 * time.Second

	// breakerNeverCloses is the circuit breaker's open-state timeout. It is
	// set far beyond any realistic process lifetime so a tripped breaker
	// never half-opens on its own; only an explicit Restart clears it.
	breakerNeverCloses = 365 * 24 * time.Hour

	// hostMemoryFraction is the conservative share of observed host memory
	// StartAll will treat as available for model weights when the operator
	// supplies no explicit VRAM budget (GB is used as the shared unit for
	// unified-memory and CPU-offload deployments with no dedicated VRAM).
	hostMemoryFraction = 0.7
)

var errUnexpectedExit = fmt.Errorf("inference server exited unexpectedly")

func newRestartBreaker() *resilience.CircuitBreaker {
	return resilience.New(resilience.Config{
		MaxFailures: maxConsecutiveFailures,
		Timeout:     breakerNeverCloses,
	})
}

// Registry is the subset of *registry.Registry the supervisor depends on.
type Registry interface {
	Get(modelID string) (registry.DiscoveredModel, error)
	Settings() registry.RuntimeSettings
}

// Supervisor owns one OS process per enabled model.
type Supervisor struct {
	mu         sync.RWMutex
	servers    map[string]*InferenceServer
	modelLocks map[string]*sync.Mutex

	reg        Registry
	binaryPath string
	logger     *logging.Logger
	hooks      core.ObservationHooks
}

// Config configures a new Supervisor.
type Config struct {
	BinaryPath string
}

// New constructs a Supervisor backed by reg, which remains the source of
// truth for model metadata (SPEC_FULL.md §5.B).
func New(cfg Config, reg Registry, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		servers:    make(map[string]*InferenceServer),
		modelLocks: make(map[string]*sync.Mutex),
		reg:        reg,
		binaryPath: cfg.BinaryPath,
		logger:     logger,
		hooks:      core.NoopObservationHooks,
	}
}

// WithObservationHooks configures callbacks observing each start attempt
// (initial or restart). Passing a zero ObservationHooks resets to the noop
// default.
func (s *Supervisor) WithObservationHooks(hooks core.ObservationHooks) {
	s.hooks = hooks
}

// Descriptor implements lifecycle.DescriptorProvider.
func (s *Supervisor) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "supervisor", Layer: core.LayerSupervisor}
}

func (s *Supervisor) lockFor(modelID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.modelLocks[modelID]
	if !ok {
		l = &sync.Mutex{}
		s.modelLocks[modelID] = l
	}
	return l
}

func (s *Supervisor) get(modelID string) (*InferenceServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[modelID]
	return srv, ok
}

func (s *Supervisor) set(modelID string, srv *InferenceServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[modelID] = srv
}

// Start spawns the inference-server process for modelID if not already
// running, polling readiness until ready or the ready deadline expires.
func (s *Supervisor) Start(ctx context.Context, modelID string) (startErr error) {
	finish := core.StartObservation(ctx, s.hooks, map[string]string{"model_id": modelID})
	defer func() { finish(startErr) }()

	lock := s.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	model, err := s.reg.Get(modelID)
	if err != nil {
		return err
	}
	if !model.Enabled {
		return errors.InvalidRequest("model is not enabled")
	}

	if srv, ok := s.get(modelID); ok && (srv.State == StateReady || srv.State == StateStarting) {
		return nil
	}

	if portBound(model.Port) {
		return errors.PortBusy(model.Port)
	}

	settings := s.reg.Settings()
	spec := launchSpecFor(s.binaryPath, model, settings)

	cmd, err := spawn(spec)
	if err != nil {
		return err
	}

	// Carry the failure history forward across an automatic crash-restart
	// so the breaker keeps counting toward its terminal threshold; Stop
	// resets it, so an operator-initiated Restart always starts clean.
	var consecutiveFails int
	breaker := newRestartBreaker()
	if prev, ok := s.get(modelID); ok && prev.breaker != nil {
		consecutiveFails = prev.ConsecutiveFails
		breaker = prev.breaker
	}

	srv := &InferenceServer{
		ModelID:          modelID,
		Port:             model.Port,
		State:            StateStarting,
		StartedAt:        time.Now(),
		ConsecutiveFails: consecutiveFails,
		breaker:          breaker,
		cmd:              cmd,
	}
	s.set(modelID, srv)
	s.watch(modelID, srv)

	if err := pollReady(ctx, model.Port, spec.ReadyTimeout); err != nil {
		_ = terminate(cmd, spec.GraceTimeout)
		srv.State = StateFailed
		return fmt.Errorf("start %s: %w", modelID, err)
	}

	srv.State = StateReady
	srv.LastReadyProbe = time.Now()
	srv.ConsecutiveFails = 0
	_ = srv.breaker.Execute(ctx, func() error { return nil })
	if s.logger != nil {
		s.logger.WithField("model_id", modelID).WithField("port", model.Port).Info("inference server ready")
	}
	return nil
}

func launchSpecFor(binaryPath string, model registry.DiscoveredModel, settings registry.RuntimeSettings) LaunchSpec {
	spec := LaunchSpec{
		BinaryPath:   binaryPath,
		Port:         model.Port,
		GPULayers:    settings.GPULayers,
		CtxSize:      settings.CtxSize,
		Threads:      settings.Threads,
		BatchSize:    settings.BatchSize,
		ReadyTimeout: defaultReadyTimeout,
		GraceTimeout: defaultGraceTimeout,
	}
	if model.Overrides.GPULayers != nil {
		spec.GPULayers = *model.Overrides.GPULayers
	}
	if model.Overrides.CtxSize != nil {
		spec.CtxSize = *model.Overrides.CtxSize
	}
	if model.Overrides.Threads != nil {
		spec.Threads = *model.Overrides.Threads
	}
	if model.Overrides.BatchSize != nil {
		spec.BatchSize = *model.Overrides.BatchSize
	}
	return spec
}

// watch waits for the process to exit and applies the restart policy from
// spec.md §4.B if the exit was unexpected (i.e. not triggered by Stop).
func (s *Supervisor) watch(modelID string, srv *InferenceServer) {
	cmd := srv.cmd
	go func() {
		err := cmd.Wait()

		lock := s.lockFor(modelID)
		lock.Lock()
		defer lock.Unlock()

		current, ok := s.get(modelID)
		if !ok || current != srv {
			return // superseded by a newer start
		}
		if current.State == StateDraining || current.State == StateStopped {
			return // intentional stop, not a failure
		}

		current.ConsecutiveFails++
		if s.logger != nil {
			s.logger.WithField("model_id", modelID).WithField("exit_error", err).WithField("consecutive_fails", current.ConsecutiveFails).Warn("inference server exited unexpectedly")
		}

		breakerErr := current.breaker.Execute(context.Background(), func() error { return errUnexpectedExit })
		if breakerErr == resilience.ErrCircuitOpen || current.breaker.State() == resilience.StateOpen {
			current.State = StateFailed
			return
		}

		delay := restartBackoff(current.ConsecutiveFails)
		current.State = StateStopped
		time.AfterFunc(delay, func() {
			_ = s.Start(context.Background(), modelID)
		})
	}()
}

// restartBackoff implements spec.md §4.B: first failure -> immediate
// restart, subsequent failures -> exponential backoff capped at 60s.
func restartBackoff(consecutiveFails int) time.Duration {
	if consecutiveFails <= 1 {
		return 0
	}
	backoff := time.Second
	for i := 1; i < consecutiveFails-1; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// Stop gracefully terminates modelID's process, force-killing after a grace window.
func (s *Supervisor) Stop(ctx context.Context, modelID string) error {
	lock := s.lockFor(modelID)
	lock.Lock()
	defer lock.Unlock()

	srv, ok := s.get(modelID)
	if !ok || srv.State == StateStopped {
		return nil
	}
	srv.State = StateDraining
	if err := terminate(srv.cmd, defaultGraceTimeout); err != nil {
		return fmt.Errorf("stop %s: %w", modelID, err)
	}
	srv.State = StateStopped
	// An intentional stop clears failure history: the next Start (including
	// one driven by Restart) begins with a closed breaker.
	srv.ConsecutiveFails = 0
	srv.breaker = newRestartBreaker()
	return nil
}

// Restart stops then starts modelID.
func (s *Supervisor) Restart(ctx context.Context, modelID string) error {
	if err := s.Stop(ctx, modelID); err != nil {
		return err
	}
	return s.Start(ctx, modelID)
}

// StartAll starts every enabled model, sequencing greedily by descending
// estimated VRAM until vramBudgetGB would be exceeded; remaining models stay
// stopped and are reported via the returned skipped list. When
// vramBudgetGB <= 0 (no operator-supplied budget), StartAll falls back to a
// conservative fraction of observed host memory via gopsutil rather than
// starting every model unconditionally.
func (s *Supervisor) StartAll(ctx context.Context, models []registry.DiscoveredModel, vramBudgetGB float64) (started []string, skipped []string, err error) {
	budget := effectiveVRAMBudgetGB(vramBudgetGB, s.logger)

	sort.Slice(models, func(i, j int) bool {
		return EstimateVRAMGB(models[i].SizeParamsB, models[i].Quantization, 4096) >
			EstimateVRAMGB(models[j].SizeParamsB, models[j].Quantization, 4096)
	})

	remaining := budget
	for _, m := range models {
		cost := EstimateVRAMGB(m.SizeParamsB, m.Quantization, 4096)
		if budget > 0 && cost > remaining {
			skipped = append(skipped, m.ModelID)
			continue
		}
		if startErr := s.Start(ctx, m.ModelID); startErr != nil {
			skipped = append(skipped, m.ModelID)
			continue
		}
		started = append(started, m.ModelID)
		remaining -= cost
	}
	return started, skipped, nil
}

// effectiveVRAMBudgetGB returns operatorGB unchanged when positive.
// Otherwise it queries host memory via gopsutil and returns
// hostMemoryFraction of it (in GB) as a conservative stand-in budget, so an
// unconfigured deployment still caps concurrent model startup instead of
// enforcing nothing. A query failure (e.g. unsupported platform) logs and
// leaves the budget at 0 (unlimited), preserving prior behavior.
func effectiveVRAMBudgetGB(operatorGB float64, logger *logging.Logger) float64 {
	if operatorGB > 0 {
		return operatorGB
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		if logger != nil {
			logger.WithField("error", err.Error()).Warn("host memory query failed, StartAll budget left unenforced")
		}
		return 0
	}
	hostGB := float64(vm.Total) / (1024 * 1024 * 1024)
	return hostGB * hostMemoryFraction
}

// StopAll stops every tracked server.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.servers))
	for id := range s.servers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns the current view of every tracked server.
func (s *Supervisor) Status() []ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServerStatus, 0, len(s.servers))
	for _, srv := range s.servers {
		st := ServerStatus{
			ModelID:      srv.ModelID,
			Port:         srv.Port,
			State:        srv.State,
			RestartCount: srv.RestartCount,
		}
		if srv.State == StateReady {
			st.Uptime = time.Since(srv.StartedAt)
		}
		if srv.cmd != nil && srv.cmd.Process != nil {
			st.PID = srv.cmd.Process.Pid
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// IsReady reports whether modelID's server is currently ready — the Router's
// sole admissibility check (spec.md §4.F, testable property 6).
func (s *Supervisor) IsReady(modelID string) bool {
	srv, ok := s.get(modelID)
	return ok && srv.State == StateReady
}
