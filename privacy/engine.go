// Package privacy turns ordinary gradient computation into a
// differentially-private one. Each example's gradient is clipped to a fixed
// norm bound C before aggregation, and the macro-step aggregate receives
// Gaussian noise with per-coordinate std sigma*C, so no single example can
// move the update by more than C and the noise is calibrated to exactly that
// sensitivity.
package privacy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/T4ras123/GPT2-with-noise/params"
	"github.com/T4ras123/GPT2-with-noise/transformer"
)

// Engine wraps a model and produces clipped per-example gradient sums. It
// satisfies the training loop's GradientSource contract: Accumulate per
// micro-batch, Finalize once per macro-step. Noise is injected in Finalize,
// once per macro-step; the per-micro-step alternative would need a rescaled
// multiplier and is not used here.
type Engine struct {
	ClipNorm        float64
	NoiseMultiplier float64

	model *transformer.Model
	noise distuv.Normal
}

func NewEngine(m *transformer.Model, cfg params.PrivacyConfig, seed uint64) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		ClipNorm:        cfg.ClipNorm,
		NoiseMultiplier: cfg.NoiseMultiplier,
		model:           m,
	}
	if cfg.NoiseMultiplier > 0 {
		e.noise = distuv.Normal{
			Mu:    0,
			Sigma: cfg.NoiseMultiplier * cfg.ClipNorm,
			Src:   rand.NewSource(seed),
		}
	}
	return e, nil
}

// Clip rescales g in place so its full-parameter-vector norm does not exceed
// the clipping threshold; gradients already under the bound are untouched.
// Returns the pre-clip norm.
func (e *Engine) Clip(g transformer.Grads) float64 {
	norm := g.GlobalNorm()
	if norm > e.ClipNorm {
		g.Scale(e.ClipNorm / norm)
	}
	return norm
}

// Accumulate computes one gradient per example in the micro-batch, clips
// each to the threshold, and adds the clipped sum into acc. Returns the mean
// loss over the micro-batch.
func (e *Engine) Accumulate(inputs, targets [][]int, acc transformer.Grads) (float64, error) {
	if len(inputs) == 0 || len(inputs) != len(targets) {
		return 0, fmt.Errorf("privacy: got %d inputs and %d targets", len(inputs), len(targets))
	}
	lossSum := 0.0
	for b := range inputs {
		_, loss, err := e.model.Forward(inputs[b], targets[b])
		if err != nil {
			return 0, err
		}
		g, err := e.model.Backward(targets[b])
		if err != nil {
			return 0, err
		}
		if err := g.ShapeCheck(e.model.Params()); err != nil {
			return 0, fmt.Errorf("privacy: per-example gradient: %w", err)
		}
		if err := acc.ShapeCheck(e.model.Params()); err != nil {
			return 0, fmt.Errorf("privacy: accumulator: %w", err)
		}
		e.Clip(g)
		acc.Add(g)
		lossSum += loss
	}
	return lossSum / float64(len(inputs)), nil
}

// Finalize completes a macro-step over examples total clipped contributions:
// add noise once, then divide by the example count so acc becomes the
// effective batch gradient the optimizer consumes.
func (e *Engine) Finalize(acc transformer.Grads, examples int) error {
	if examples <= 0 {
		return fmt.Errorf("privacy: finalize over %d examples", examples)
	}
	if e.NoiseMultiplier > 0 {
		for _, m := range acc {
			r, c := m.Dims()
			for i := 0; i < r; i++ {
				for j := 0; j < c; j++ {
					m.Set(i, j, m.At(i, j)+e.noise.Rand())
				}
			}
		}
	}
	acc.Scale(1.0 / float64(examples))
	return nil
}

// Batched is the non-private gradient source: same aggregation contract as
// Engine but without clipping or noise. Used for A/B runs against the
// private mechanism.
type Batched struct {
	model *transformer.Model
}

func NewBatched(m *transformer.Model) *Batched { return &Batched{model: m} }

func (s *Batched) Accumulate(inputs, targets [][]int, acc transformer.Grads) (float64, error) {
	if len(inputs) == 0 || len(inputs) != len(targets) {
		return 0, fmt.Errorf("batched grads: got %d inputs and %d targets", len(inputs), len(targets))
	}
	lossSum := 0.0
	for b := range inputs {
		_, loss, err := s.model.Forward(inputs[b], targets[b])
		if err != nil {
			return 0, err
		}
		g, err := s.model.Backward(targets[b])
		if err != nil {
			return 0, err
		}
		acc.Add(g)
		lossSum += loss
	}
	return lossSum / float64(len(inputs)), nil
}

func (s *Batched) Finalize(acc transformer.Grads, examples int) error {
	if examples <= 0 {
		return fmt.Errorf("batched grads: finalize over %d examples", examples)
	}
	acc.Scale(1.0 / float64(examples))
	return nil
}
