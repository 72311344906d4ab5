package registry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var modelExtensions = map[string]bool{
	".gguf": true,
	".bin":  true,
	".safetensors": true,
}

// sizeRe matches a parameter-count token like "8b", "13B", "70b" anywhere in
// a filename stem.
var sizeRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)b`)

// quantRe matches common GGUF quantization labels.
var quantRe = regexp.MustCompile(`(?i)(Q[2-8]_K_[SML]|Q[2-8]_[0-9A-Z]+|Q[2-8]_K|F16|F32|BF16|Q8_0)`)

// versionRe matches a dotted or bare version token like "3.1" or "v2".
var versionRe = regexp.MustCompile(`(?i)v?(\d+(?:\.\d+)+|\d+)(?:[-_]|$)`)

// parsedFilename captures the static attributes extracted from a model
// filename, per spec.md §4.A's "extract {family, version, size_params,
// quantization, is_thinking, is_coder, is_instruct} from the filename".
type parsedFilename struct {
	Family       string
	Version      string
	SizeParamsB  float64
	Quantization string
	IsThinking   bool
	IsCoder      bool
	IsInstruct   bool
}

func parseFilename(path string) parsedFilename {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	lower := strings.ToLower(stem)

	p := parsedFilename{}

	if m := quantRe.FindString(stem); m != "" {
		p.Quantization = strings.ToUpper(m)
	} else {
		p.Quantization = "unknown"
	}

	if m := sizeRe.FindStringSubmatch(stem); len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.SizeParamsB = v
		}
	}

	// Family is the leading token before the first separator, size marker,
	// or quantization marker — e.g. "llama-3-8b-instruct.Q4_K_M" => "llama".
	parts := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	if len(parts) > 0 {
		p.Family = strings.ToLower(parts[0])
	}

	if m := versionRe.FindStringSubmatch(stem); len(m) == 2 {
		p.Version = m[1]
	}

	p.IsThinking = strings.Contains(lower, "thinking") || strings.Contains(lower, "reasoning") || strings.Contains(lower, "-r1")
	p.IsCoder = strings.Contains(lower, "coder") || strings.Contains(lower, "code")
	p.IsInstruct = strings.Contains(lower, "instruct") || strings.Contains(lower, "chat") || strings.Contains(lower, "-it")

	return p
}

// deriveModelID builds a stable identifier from the parsed filename
// attributes, per spec.md §3's "stable model_id (derived from filename,
// family, size, quantization)". A short hash of the full path disambiguates
// files that otherwise parse identically (e.g. two copies in different
// directories).
func deriveModelID(path string, p parsedFilename) string {
	size := "0"
	if p.SizeParamsB > 0 {
		size = strconv.FormatFloat(p.SizeParamsB, 'g', -1, 64)
	}
	// Deterministic on path (not uuid.New()'s random v4) so re-scanning the
	// same file always derives the same model_id.
	suffix := uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()[:6]
	return fmt.Sprintf("%s-%sb-%s-%s", p.Family, size, strings.ToLower(p.Quantization), suffix)
}

func isModelFile(path string) bool {
	return modelExtensions[strings.ToLower(filepath.Ext(path))]
}

// assignTier applies spec.md §4.A's default tier-assignment rule.
func assignTier(sizeParamsB float64, thresholds TierThresholds) Tier {
	switch {
	case sizeParamsB >= thresholds.PowerfulMin:
		return TierPowerful
	case sizeParamsB <= thresholds.FastMax:
		return TierFast
	default:
		return TierBalanced
	}
}
