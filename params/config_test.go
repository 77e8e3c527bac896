package params

import "testing"

func validModel() ModelConfig {
	return ModelConfig{
		BlockSize: 16,
		VocabSize: 32,
		NLayer:    2,
		NHead:     2,
		DModel:    32,
		BatchSize: 2,
	}
}

func TestModelConfigValidate(t *testing.T) {
	if err := validModel().Validate(); err != nil {
		t.Fatal(err)
	}
	c := validModel()
	c.DModel = 30
	if err := c.Validate(); err == nil {
		t.Fatal("expected error: DModel not divisible by NHead")
	}
	c = validModel()
	c.NLayer = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero layers")
	}
	if got := validModel().DHead(); got != 16 {
		t.Fatalf("DHead = %d, want 16", got)
	}
}

func TestTrainConfigValidate(t *testing.T) {
	m := validModel()
	good := TrainConfig{
		TotalBatchTokens: 64,
		MaxSteps:         10,
		WarmupSteps:      2,
		MaxLR:            6e-4,
		MinLR:            6e-5,
		WeightDecay:      0.1,
		AdamBeta1:        0.9,
		AdamBeta2:        0.95,
		AdamEps:          1e-8,
		GradClip:         1.0,
	}
	if err := good.Validate(m); err != nil {
		t.Fatal(err)
	}
	if got := good.GradAccumSteps(m); got != 2 {
		t.Fatalf("GradAccumSteps = %d, want 2", got)
	}

	c := good
	c.TotalBatchTokens = 48 // not a multiple of 2*16
	if err := c.Validate(m); err == nil {
		t.Fatal("expected error for uneven gradient accumulation")
	}
	c = good
	c.WarmupSteps = 10 // == MaxSteps
	if err := c.Validate(m); err == nil {
		t.Fatal("expected error for warmup covering the whole run")
	}
	c = good
	c.MinLR = 1e-3 // above MaxLR
	if err := c.Validate(m); err == nil {
		t.Fatal("expected error for MinLR above MaxLR")
	}
	c = good
	c.AdamBeta2 = 1.0
	if err := c.Validate(m); err == nil {
		t.Fatal("expected error for beta2 = 1")
	}
}

func TestPrivacyConfigValidate(t *testing.T) {
	if err := (PrivacyConfig{ClipNorm: 1, NoiseMultiplier: 0.5}).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (PrivacyConfig{ClipNorm: 0, NoiseMultiplier: 1}).Validate(); err == nil {
		t.Fatal("expected error for zero clipping threshold")
	}
	if err := (PrivacyConfig{ClipNorm: 1, NoiseMultiplier: -1}).Validate(); err == nil {
		t.Fatal("expected error for negative noise multiplier")
	}
}
