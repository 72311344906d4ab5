package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/inference"
	"github.com/cascadeai/modelmesh/internal/pipeline"
	"github.com/cascadeai/modelmesh/internal/registry"
)

const (
	defaultMaxTurns = 6
	minMaxTurns     = 2
	maxMaxTurns     = 20

	// consensusConvergenceThreshold and adversarialStalemateThreshold are the
	// Jaccard-distance cutoffs below which two consecutive turns are judged
	// to have stopped meaningfully changing. Open Question decision: 0.08,
	// calibrated against short debate turns of a few sentences each.
	consensusConvergenceThreshold = 0.08
	adversarialStalemateThreshold = 0.08
)

var concessionPhrases = []string{
	"i concede", "you are right", "you're right", "i agree with your position",
	"i yield", "i stand corrected", "fair point, i withdraw",
}

// runCouncil implements spec.md §4.H's council mode: a bounded multi-turn
// dialogue among personas, optionally moderated, terminating on max_turns,
// convergence (consensus), or stalemate/concession (adversarial).
func (e *Engine) runCouncil(ctx context.Context, queryID string, req QueryRequest, adversarial bool) (QueryResponse, error) {
	c, err := e.assessComplexity(queryID, req)
	if err != nil {
		return QueryResponse{}, err
	}
	tier := c.Tier
	if tier == registry.TierFast {
		tier = registry.TierBalanced
	}

	maxTurns := req.MaxTurns
	if maxTurns < minMaxTurns {
		maxTurns = defaultMaxTurns
	}
	if maxTurns > maxMaxTurns {
		maxTurns = maxMaxTurns
	}

	personas := req.Personas
	if len(personas) == 0 {
		if adversarial {
			personas = []string{"pro", "con"}
		} else {
			personas = []string{"participant_a", "participant_b"}
		}
	}

	if err := e.tracker.Enter(queryID, pipeline.StageRouting, nil); err != nil {
		return QueryResponse{}, err
	}
	if err := e.tracker.Enter(queryID, pipeline.StageGeneration, nil); err != nil {
		return QueryResponse{}, err
	}

	var turns []DebateTurn
	reason := "max_turns"
	belowThresholdStreak := 0

	for turnNum := 1; turnNum <= maxTurns; turnNum++ {
		persona := personas[(turnNum-1)%len(personas)]

		modelID, err := e.router.Select(tier)
		if err != nil {
			reason = "failed"
			break
		}

		prompt := councilPrompt(req.Query, persona, adversarial, turns)
		e.router.Acquire(modelID)
		completion, genErr := mustClient(ctx, e, modelID, prompt)
		e.router.Release(modelID)
		if genErr != nil {
			reason = "failed"
			break
		}

		turns = append(turns, DebateTurn{
			TurnID:     uuid.NewString(),
			TurnNumber: turnNum,
			SpeakerID:  modelID,
			Persona:    persona,
			Content:    completion.Content,
			Timestamp:  time.Now(),
			TokensUsed: completion.TokenCount,
		})

		if adversarial && containsConcession(completion.Content) {
			reason = "concession"
			break
		}

		if req.DynamicTermination && len(turns) >= 2 {
			dist := semanticDistance(turns[len(turns)-2].Content, turns[len(turns)-1].Content)
			threshold := consensusConvergenceThreshold
			if adversarial {
				threshold = adversarialStalemateThreshold
			}
			if dist < threshold {
				belowThresholdStreak++
			} else {
				belowThresholdStreak = 0
			}

			// A single below-threshold turn-pair is enough to call it, in
			// both modes: once two consecutive turns stop meaningfully
			// diverging, further turns rarely change the outcome.
			if belowThresholdStreak >= 1 {
				reason = "stalemate"
				break
			}
		}
	}

	if len(turns) == 0 {
		failErr := errors.Internal("every council turn failed", nil)
		_ = e.tracker.Fail(queryID, failErr)
		return QueryResponse{}, failErr
	}

	var moderatorReport *ModeratorReport
	if req.Moderator {
		moderatorReport = e.runModerator(ctx, tier, req.Query, turns)
	}

	mode := ModeCouncilConsensus
	if adversarial {
		mode = ModeCouncilAdversarial
	}

	if err := e.tracker.Enter(queryID, pipeline.StageResponse, nil); err != nil {
		return QueryResponse{}, err
	}
	if err := e.tracker.Complete(queryID, turns[len(turns)-1].SpeakerID, string(tier), 0); err != nil {
		return QueryResponse{}, err
	}

	return QueryResponse{
		Query:        req.Query,
		ResponseText: turns[len(turns)-1].Content,
		Metadata: QueryMetadata{
			QueryMode: mode,
			Tier:      string(tier),
			Council: &CouncilMetadata{
				Turns:             turns,
				TerminationReason: reason,
				Moderator:         moderatorReport,
			},
		},
	}, nil
}

// mustClient is a small indirection so council.go doesn't need to know
// about clientFactory internals beyond "give me a completion".
func mustClient(ctx context.Context, e *Engine, modelID, prompt string) (inference.Completion, error) {
	client, err := e.clients.clientFor(modelID)
	if err != nil {
		return inference.Completion{}, err
	}
	return client.Complete(ctx, prompt, inference.Options{MaxTokens: defaultMaxTokens, Temperature: 0.7})
}

// councilPrompt builds the next turn's prompt: the original question, the
// speaker's persona/stance, and the transcript so far.
func councilPrompt(query, persona string, adversarial bool, history []DebateTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", query)
	if adversarial {
		fmt.Fprintf(&b, "You are arguing the %q side of this debate. Respond to the other side's latest point, or open the debate if none yet.\n\n", persona)
	} else {
		fmt.Fprintf(&b, "You are %q, one voice in a consensus-seeking discussion. Build on or refine the discussion so far.\n\n", persona)
	}
	if len(history) == 0 {
		b.WriteString("No turns yet. Make the opening statement.\n")
		return b.String()
	}
	b.WriteString("Transcript so far:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "[%s]: %s\n", t.Persona, t.Content)
	}
	return b.String()
}

func containsConcession(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range concessionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

const moderatorInstruction = `You are moderating a debate. Given the transcript, respond with ONLY a JSON object of the form:
{"argument_strength": {"persona": 0.0}, "logical_fallacies": ["..."], "rhetorical_techniques": ["..."], "key_turning_points": ["..."], "overall_winner": "pro|con|tie"}`

// runModerator asks a powerful-tier model to analyze the transcript. A
// parse failure yields an empty-but-non-nil report rather than an error —
// moderation is a best-effort enrichment, not load-bearing for the debate
// result itself.
func (e *Engine) runModerator(ctx context.Context, tier registry.Tier, query string, turns []DebateTurn) *ModeratorReport {
	modelID, err := e.router.Select(registry.TierPowerful)
	if err != nil {
		modelID, err = e.router.Select(tier)
		if err != nil {
			return &ModeratorReport{}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nTopic: %s\n\nTranscript:\n", moderatorInstruction, query)
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s]: %s\n", t.Persona, t.Content)
	}

	e.router.Acquire(modelID)
	completion, err := mustClient(ctx, e, modelID, b.String())
	e.router.Release(modelID)
	if err != nil {
		return &ModeratorReport{}
	}

	var parsed struct {
		ArgumentStrength     map[string]float64 `json:"argument_strength"`
		LogicalFallacies     []string            `json:"logical_fallacies"`
		RhetoricalTechniques []string            `json:"rhetorical_techniques"`
		KeyTurningPoints     []string            `json:"key_turning_points"`
		OverallWinner        string              `json:"overall_winner"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(completion.Content)), &parsed); err != nil {
		return &ModeratorReport{}
	}

	return &ModeratorReport{
		ArgumentStrength:     parsed.ArgumentStrength,
		LogicalFallacies:     parsed.LogicalFallacies,
		RhetoricalTechniques: parsed.RhetoricalTechniques,
		KeyTurningPoints:     parsed.KeyTurningPoints,
		OverallWinner:        parsed.OverallWinner,
	}
}

// extractJSONObject trims any leading/trailing prose a model adds around
// the requested JSON object.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
