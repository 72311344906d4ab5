package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenEnterCompleteHappyPath(t *testing.T) {
	tr := New(nil, nil)
	tr.Open("q1")

	require.NoError(t, tr.Enter("q1", StageComplexity, nil))
	require.NoError(t, tr.Enter("q1", StageRouting, nil)) // skips cgrag, legal
	require.NoError(t, tr.Enter("q1", StageGeneration, nil))
	require.NoError(t, tr.Complete("q1", "model-a", "fast", 0))

	p, ok := tr.Get("q1")
	require.True(t, ok)
	require.Equal(t, StatusCompleted, p.OverallStatus)
	require.Equal(t, "model-a", p.ModelSelected)

	activeCount := 0
	for _, s := range p.Stages {
		if s.Status == StageActive {
			activeCount++
		}
	}
	require.Zero(t, activeCount, "no stage should remain active after completion")
}

func TestEnterBackwardsIsRejected(t *testing.T) {
	tr := New(nil, nil)
	tr.Open("q1")
	require.NoError(t, tr.Enter("q1", StageRouting, nil))

	err := tr.Enter("q1", StageComplexity, nil)
	require.Error(t, err)
}

func TestFailClosesActiveStageAndSetsOverallStatus(t *testing.T) {
	tr := New(nil, nil)
	tr.Open("q1")
	require.NoError(t, tr.Enter("q1", StageComplexity, nil))

	require.NoError(t, tr.Fail("q1", errors.New("boom")))

	p, ok := tr.Get("q1")
	require.True(t, ok)
	require.Equal(t, StatusFailed, p.OverallStatus)
	last := p.Stages[len(p.Stages)-1]
	require.Equal(t, StageFailed, last.Status)
	require.Equal(t, "boom", last.Error)
}

func TestStagesAreAppendOnly(t *testing.T) {
	tr := New(nil, nil)
	tr.Open("q1")
	require.NoError(t, tr.Enter("q1", StageComplexity, nil))
	require.NoError(t, tr.Enter("q1", StageRouting, nil))

	p, _ := tr.Get("q1")
	require.Len(t, p.Stages, 3)
	require.Equal(t, StageInput, p.Stages[0].Name)
	require.Equal(t, StageComplexity, p.Stages[1].Name)
	require.Equal(t, StageRouting, p.Stages[2].Name)
}

func TestExactlyOneStageActiveAtATime(t *testing.T) {
	tr := New(nil, nil)
	tr.Open("q1")
	require.NoError(t, tr.Enter("q1", StageComplexity, nil))

	p, _ := tr.Get("q1")
	activeCount := 0
	for _, s := range p.Stages {
		if s.Status == StageActive {
			activeCount++
		}
	}
	require.Equal(t, 1, activeCount)
}

func TestStatsCountsByStatus(t *testing.T) {
	tr := New(nil, nil)
	tr.Open("q1")
	require.NoError(t, tr.Complete("q1", "m", "fast", 1))

	tr.Open("q2")
	require.NoError(t, tr.Fail("q2", errors.New("x")))

	tr.Open("q3")

	stats := tr.Stats()
	require.Equal(t, 1, stats.Completed)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Processing)
	require.Equal(t, 3, stats.Total)
}
