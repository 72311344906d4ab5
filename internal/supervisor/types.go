// Package supervisor owns the lifetime of one OS process per enabled model:
// spawning the inference-server binary, probing readiness, and restarting
// it within a bounded policy on unexpected exit. The supervisor is a
// stateless projection over the registry — it consults it for model
// metadata on every operation rather than caching a copy, avoiding the
// cyclic-reference trap spec.md §9 calls out.
package supervisor

import (
	"os/exec"
	"time"

	"github.com/cascadeai/modelmesh/internal/resilience"
)

// State is the runtime state of one inference-server process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateFailed   State = "failed"
)

// InferenceServer is the supervisor's runtime view of one enabled model.
type InferenceServer struct {
	ModelID           string
	Port              int
	State             State
	StartedAt         time.Time
	LastReadyProbe    time.Time
	ConsecutiveFails  int
	RestartCount      int

	// breaker gates the exponential-backoff-then-terminal restart policy:
	// it never auto-closes on a timer (Timeout is set far beyond any real
	// run), so tripping it after maxConsecutiveFailures is a one-way
	// transition to StateFailed until an operator-initiated Restart.
	breaker *resilience.CircuitBreaker

	cmd *exec.Cmd
}

// ServerStatus is the public, copyable view returned by Status().
type ServerStatus struct {
	ModelID      string
	Port         int
	State        State
	Uptime       time.Duration
	PID          int
	RestartCount int
}
