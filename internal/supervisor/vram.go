package supervisor

// quantMultipliers is the fixed table from spec.md §4.H's benchmark-mode
// VRAM estimate, reused here for the supervisor's bulk-start budget check
// (SPEC_FULL.md §5.H: both consult the same estimator).
var quantMultipliers = map[string]float64{
	"Q2_K":    0.25,
	"Q3_K_M":  0.35,
	"Q4_K_M":  0.50,
	"Q8_0":    1.0,
	"F16":     2.0,
}

const defaultQuantMultiplier = 0.5

// EstimateVRAMGB estimates a model's resident VRAM footprint in gigabytes:
// size_params_b * quant_multiplier + ctx_size * 2 bytes + 0.5GB overhead.
func EstimateVRAMGB(sizeParamsB float64, quantization string, ctxSize int) float64 {
	mult, ok := quantMultipliers[quantization]
	if !ok {
		mult = defaultQuantMultiplier
	}
	ctxBytes := float64(ctxSize) * 2
	ctxGB := ctxBytes / (1024 * 1024 * 1024)
	return sizeParamsB*mult + ctxGB + 0.5
}
