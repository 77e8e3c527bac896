package optimizations

import "math"

// CosineSchedule is the warmup-then-cosine learning-rate law. It is a pure
// function of its fields and the step index; all constants are explicit, no
// package state.
type CosineSchedule struct {
	MaxLR       float64
	MinLR       float64
	WarmupSteps int
	MaxSteps    int
}

// Rate returns the learning rate for a macro-step index. Safe for any
// step >= 0: warmup ramps from MaxLR/WarmupSteps (not zero) at step 0,
// cosine decay covers [WarmupSteps, MaxSteps], and anything past MaxSteps
// clamps to exactly MinLR.
func (s CosineSchedule) Rate(step int) float64 {
	if step < s.WarmupSteps {
		return s.MaxLR * float64(step+1) / float64(s.WarmupSteps)
	}
	if step > s.MaxSteps {
		return s.MinLR
	}
	r := float64(step-s.WarmupSteps) / float64(s.MaxSteps-s.WarmupSteps)
	coeff := 0.5 * (1.0 + math.Cos(math.Pi*r))
	return s.MinLR + coeff*(s.MaxLR-s.MinLR)
}
