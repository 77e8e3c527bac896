package main

import (
	"fmt"
	"math"
	"time"

	"github.com/T4ras123/GPT2-with-noise/IO"
	"github.com/T4ras123/GPT2-with-noise/optimizations"
	"github.com/T4ras123/GPT2-with-noise/params"
	"github.com/T4ras123/GPT2-with-noise/transformer"
	"github.com/T4ras123/GPT2-with-noise/utils"
)

// GradientSource feeds gradient contributions to the training loop. The
// loop calls Accumulate once per micro-step and Finalize once per
// macro-step; whether the source clips per example and injects noise
// (privacy.Engine) or sums plainly (privacy.Batched) is invisible here, and
// to the optimizer downstream.
type GradientSource interface {
	Accumulate(inputs, targets [][]int, acc transformer.Grads) (float64, error)
	Finalize(acc transformer.Grads, examples int) error
}

// Train runs the full schedule of macro-steps and returns the per-step
// accumulated losses. Any non-finite loss or gradient norm aborts the run
// immediately: masking a numerical failure would silently void the privacy
// guarantee downstream consumers rely on.
func Train(
	m *transformer.Model,
	loader *IO.Loader,
	src GradientSource,
	opt *optimizations.AdamW,
	sched optimizations.CosineSchedule,
	tcfg params.TrainConfig,
) ([]float64, error) {
	gradAccum := tcfg.GradAccumSteps(m.Cfg)
	examples := gradAccum * m.Cfg.BatchSize
	acc := transformer.NewGrads(m.Params())
	losses := make([]float64, 0, tcfg.MaxSteps)

	for step := 0; step < tcfg.MaxSteps; step++ {
		t0 := time.Now()
		acc.Zero()
		lossAccum := 0.0

		for micro := 0; micro < gradAccum; micro++ {
			xs, ys := loader.NextBatch()
			loss, err := src.Accumulate(xs, ys, acc)
			if err != nil {
				return losses, fmt.Errorf("step %d micro %d: %w", step, micro, err)
			}
			lossAccum += loss / float64(gradAccum)
		}

		if err := src.Finalize(acc, examples); err != nil {
			return losses, fmt.Errorf("step %d: %w", step, err)
		}

		norm := acc.GlobalNorm()
		if math.IsNaN(lossAccum) || math.IsInf(lossAccum, 0) || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return losses, fmt.Errorf("step %d: non-finite loss (%g) or gradient norm (%g), aborting", step, lossAccum, norm)
		}

		utils.ClipGrads(tcfg.GradClip, acc...)

		lr := sched.Rate(step)
		if err := opt.Step(acc, lr); err != nil {
			return losses, fmt.Errorf("step %d: %w", step, err)
		}

		losses = append(losses, lossAccum)
		fmt.Printf("Step %d | Loss: %.4f | lr %.6f | Norm: %.4f | Time: %.2fms\n",
			step, lossAccum, lr, norm, float64(time.Since(t0).Microseconds())/1000.0)
	}
	return losses, nil
}
