package main

import (
	"fmt"

	"github.com/T4ras123/GPT2-with-noise/transformer"
)

// Generate extends ids by maxNew greedily-decoded tokens, cropping the
// context to the model's block size.
func Generate(m *transformer.Model, ids []int, maxNew int) ([]int, error) {
	out := append([]int(nil), ids...)
	for n := 0; n < maxNew; n++ {
		ctx := out
		if len(ctx) > m.Cfg.BlockSize {
			ctx = ctx[len(ctx)-m.Cfg.BlockSize:]
		}
		logits, _, err := m.Forward(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		// argmax over the last position's logits
		last := len(ctx) - 1
		best := 0
		bestV := logits.At(0, last)
		for i := 1; i < m.Cfg.VocabSize; i++ {
			if v := logits.At(i, last); v > bestV {
				best, bestV = i, v
			}
		}
		out = append(out, best)
	}
	return out, nil
}
