package params

import "fmt"

// ModelConfig describes the transformer architecture. It is built once at
// startup and never mutated afterwards.
type ModelConfig struct {
	BlockSize int // max context length (T)
	VocabSize int // |V|
	NLayer    int // transformer blocks
	NHead     int // attention heads
	DModel    int // embedding width
	BatchSize int // micro-batch size (sequences per micro-step)
}

func (c ModelConfig) Validate() error {
	if c.BlockSize <= 0 || c.VocabSize <= 0 || c.NLayer <= 0 || c.NHead <= 0 ||
		c.DModel <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("model config: all dimensions must be positive, got %+v", c)
	}
	if c.DModel%c.NHead != 0 {
		return fmt.Errorf("model config: DModel (%d) must be divisible by NHead (%d)",
			c.DModel, c.NHead)
	}
	return nil
}

// DHead is the per-head width.
func (c ModelConfig) DHead() int { return c.DModel / c.NHead }

// TrainConfig holds the optimization schedule. TotalBatchTokens is the
// macro-batch size in tokens; it must be an exact multiple of
// BatchSize*BlockSize so gradient accumulation comes out even.
type TrainConfig struct {
	TotalBatchTokens int
	MaxSteps         int
	WarmupSteps      int

	MaxLR       float64
	MinLR       float64
	WeightDecay float64
	AdamBeta1   float64
	AdamBeta2   float64
	AdamEps     float64

	// GradClip caps the global norm of the macro-step gradient after
	// noising. <= 0 disables.
	GradClip float64
}

func (c TrainConfig) Validate(m ModelConfig) error {
	microTokens := m.BatchSize * m.BlockSize
	if c.TotalBatchTokens <= 0 || c.TotalBatchTokens%microTokens != 0 {
		return fmt.Errorf("train config: TotalBatchTokens (%d) must be a positive multiple of BatchSize*BlockSize (%d)",
			c.TotalBatchTokens, microTokens)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("train config: MaxSteps must be positive, got %d", c.MaxSteps)
	}
	if c.WarmupSteps <= 0 || c.WarmupSteps >= c.MaxSteps {
		return fmt.Errorf("train config: WarmupSteps (%d) must be in (0, MaxSteps)", c.WarmupSteps)
	}
	if c.MaxLR <= 0 || c.MinLR < 0 || c.MinLR > c.MaxLR {
		return fmt.Errorf("train config: need 0 < MinLR <= MaxLR, got min=%g max=%g", c.MinLR, c.MaxLR)
	}
	if c.AdamBeta1 < 0 || c.AdamBeta1 >= 1 || c.AdamBeta2 < 0 || c.AdamBeta2 >= 1 {
		return fmt.Errorf("train config: Adam betas must be in [0,1), got %g/%g", c.AdamBeta1, c.AdamBeta2)
	}
	if c.AdamEps <= 0 {
		return fmt.Errorf("train config: AdamEps must be positive, got %g", c.AdamEps)
	}
	return nil
}

// GradAccumSteps is the number of micro-steps folded into one optimizer step.
func (c TrainConfig) GradAccumSteps(m ModelConfig) int {
	return c.TotalBatchTokens / (m.BatchSize * m.BlockSize)
}

// PrivacyConfig fixes the DP mechanism for the whole run: every per-example
// gradient is clipped to norm ClipNorm (C) and the macro-step aggregate gets
// Gaussian noise with per-coordinate std NoiseMultiplier*C.
type PrivacyConfig struct {
	ClipNorm        float64
	NoiseMultiplier float64
}

func (c PrivacyConfig) Validate() error {
	if c.ClipNorm <= 0 {
		return fmt.Errorf("privacy config: clipping threshold must be positive, got %g", c.ClipNorm)
	}
	if c.NoiseMultiplier < 0 {
		return fmt.Errorf("privacy config: noise multiplier must be non-negative, got %g", c.NoiseMultiplier)
	}
	return nil
}
