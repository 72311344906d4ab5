package complexity

import (
	"regexp"
	"strings"

	"github.com/cascadeai/modelmesh/internal/registry"
)

var (
	simpleKeywords = []string{
		"what is", "what's", "define", "list", "hello", "hi ", "thanks", "yes or no",
		"true or false", "how do i spell",
	}
	moderateKeywords = []string{
		"explain", "compare", "summarize", "how does", "why does", "what are the differences",
		"walk me through", "pros and cons",
	}
	complexKeywords = []string{
		"design", "architecture", "prove", "optimize", "trade-off", "tradeoff",
		"implement", "refactor", "debug", "root cause", "formally verify",
	}

	enumerationRe = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*•])\s+`)
	conditionalRe = regexp.MustCompile(`(?i)\b(if|unless|when)\b.*\b(then|otherwise)?\b`)
)

const (
	simpleCap   = -3.0
	moderateCap = 4.0
	complexCap  = 9.0

	lengthBoundedMax     = 1.5
	sentenceBoundedMax   = 1.5
	enumerationBonus     = 1.0
	conditionalBonus     = 1.0
	multiPartBonus       = 1.0
)

// Assess scores a query per spec.md §4.E. forcedMode, if one of
// "simple"/"moderate"/"complex", short-circuits to the matching tier.
func Assess(query string, forcedMode string) Complexity {
	if tier, ok := forcedTier(forcedMode); ok {
		return Complexity{Tier: tier, Score: 0, Reasoning: "user forced", Indicators: nil}
	}

	lower := strings.ToLower(query)
	var indicators []Indicator
	var score float64

	if c := keywordContribution(lower, simpleKeywords, -1, simpleCap); c != 0 {
		indicators = append(indicators, Indicator{Name: "simple_vocabulary", Contribution: c})
		score += c
	}
	if c := keywordContribution(lower, moderateKeywords, 1, moderateCap); c != 0 {
		indicators = append(indicators, Indicator{Name: "moderate_vocabulary", Contribution: c})
		score += c
	}
	if c := keywordContribution(lower, complexKeywords, 3, complexCap); c != 0 {
		indicators = append(indicators, Indicator{Name: "complex_vocabulary", Contribution: c})
		score += c
	}

	words := strings.Fields(query)
	lengthContribution := boundedLength(len(words))
	if lengthContribution != 0 {
		indicators = append(indicators, Indicator{Name: "query_length", Contribution: lengthContribution})
		score += lengthContribution
	}

	sentences := sentenceCount(query)
	sentenceContribution := boundedSentences(sentences)
	if sentenceContribution != 0 {
		indicators = append(indicators, Indicator{Name: "sentence_count", Contribution: sentenceContribution})
		score += sentenceContribution
	}

	if enumerationRe.MatchString(query) {
		indicators = append(indicators, Indicator{Name: "enumeration", Contribution: enumerationBonus})
		score += enumerationBonus
	}
	if conditionalRe.MatchString(query) {
		indicators = append(indicators, Indicator{Name: "conditional", Contribution: conditionalBonus})
		score += conditionalBonus
	}
	if isMultiPartQuestion(query) {
		indicators = append(indicators, Indicator{Name: "multi_part_question", Contribution: multiPartBonus})
		score += multiPartBonus
	}

	return Complexity{
		Tier:       tierForScore(score),
		Score:      score,
		Reasoning:  "scored from keyword and structural indicators",
		Indicators: indicators,
	}
}

func forcedTier(mode string) (registry.Tier, bool) {
	switch mode {
	case "simple":
		return registry.TierFast, true
	case "moderate":
		return registry.TierBalanced, true
	case "complex":
		return registry.TierPowerful, true
	default:
		return "", false
	}
}

func tierForScore(score float64) registry.Tier {
	switch {
	case score < 3.0:
		return registry.TierFast
	case score <= 7.0:
		return registry.TierBalanced
	default:
		return registry.TierPowerful
	}
}

// keywordContribution sums perMatch for every keyword found in lower,
// saturating (clamping) at cap — cap's sign determines whether it's a floor
// or a ceiling.
func keywordContribution(lower string, keywords []string, perMatch float64, cap float64) float64 {
	var total float64
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			total += perMatch
		}
	}
	if cap < 0 {
		if total < cap {
			return cap
		}
		return total
	}
	if total > cap {
		return cap
	}
	return total
}

func boundedLength(words int) float64 {
	switch {
	case words > 150:
		return lengthBoundedMax
	case words > 50:
		return 0.75
	default:
		return 0
	}
}

func boundedSentences(count int) float64 {
	if count <= 1 {
		return 0
	}
	c := float64(count-1) * 0.3
	if c > sentenceBoundedMax {
		return sentenceBoundedMax
	}
	return c
}

func sentenceCount(query string) int {
	count := 0
	for _, r := range query {
		if r == '.' || r == '?' || r == '!' {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}

func isMultiPartQuestion(query string) bool {
	return strings.Count(query, "?") > 1 || strings.Contains(strings.ToLower(query), " and ") && strings.Contains(query, "?")
}
