package optimizations

import (
	"math"
	"testing"
)

func TestCosineScheduleEndpoints(t *testing.T) {
	s := CosineSchedule{
		MaxLR:       6e-4,
		MinLR:       6e-5,
		WarmupSteps: 10,
		MaxSteps:    100,
	}

	// first step is MaxLR/Warmup, not zero
	if got, want := s.Rate(0), s.MaxLR/float64(s.WarmupSteps); got != want {
		t.Fatalf("Rate(0) = %g, want %g", got, want)
	}
	// warmup is linear
	if got, want := s.Rate(4), s.MaxLR*0.5; math.Abs(got-want) > 1e-15 {
		t.Fatalf("Rate(4) = %g, want %g", got, want)
	}
	// cosine starts at MaxLR right where warmup ends
	if got := s.Rate(s.WarmupSteps); math.Abs(got-s.MaxLR) > 1e-15 {
		t.Fatalf("Rate(warmup) = %g, want %g", got, s.MaxLR)
	}
	// decay bottoms out at exactly MinLR
	if got := s.Rate(s.MaxSteps); math.Abs(got-s.MinLR) > 1e-12 {
		t.Fatalf("Rate(MaxSteps) = %g, want %g", got, s.MinLR)
	}
	if got := s.Rate(s.MaxSteps + 1); got != s.MinLR {
		t.Fatalf("Rate(MaxSteps+1) = %g, want exactly %g", got, s.MinLR)
	}
	if got := s.Rate(1 << 40); got != s.MinLR {
		t.Fatalf("Rate(huge) = %g, want exactly %g", got, s.MinLR)
	}
}

func TestCosineScheduleMonotoneDecay(t *testing.T) {
	s := CosineSchedule{MaxLR: 1e-3, MinLR: 1e-4, WarmupSteps: 5, MaxSteps: 50}
	prev := s.Rate(s.WarmupSteps)
	for step := s.WarmupSteps + 1; step <= s.MaxSteps; step++ {
		lr := s.Rate(step)
		if lr > prev {
			t.Fatalf("rate increased during decay at step %d: %g > %g", step, lr, prev)
		}
		if lr < s.MinLR-1e-15 || lr > s.MaxLR+1e-15 {
			t.Fatalf("rate %g at step %d outside [MinLR, MaxLR]", lr, step)
		}
		prev = lr
	}
}
