package transformer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/T4ras123/GPT2-with-noise/utils"
)

// Parameter tags. Residual-output projections (the attention output
// projection and the second MLP projection) are initialized with a reduced
// std to compensate for variance growth across the residual stream.
const (
	TagDefault        = "default"
	TagResidualOutput = "residual-output"
)

// Parameter is one named trainable tensor. The token embedding is
// registered once but serves two logical uses (embedding and unembedding);
// its gradient slot accumulates both.
type Parameter struct {
	Name string
	Tag  string
	W    *mat.Dense
}

// Grads is one gradient tensor per registry slot, in registry order.
type Grads []*mat.Dense

// NewGrads allocates a zeroed gradient set matching the parameter registry.
func NewGrads(ps []*Parameter) Grads {
	g := make(Grads, len(ps))
	for i, p := range ps {
		r, c := p.W.Dims()
		g[i] = mat.NewDense(r, c, nil)
	}
	return g
}

func (g Grads) Zero() {
	for _, m := range g {
		m.Zero()
	}
}

// Add accumulates o into g. Shapes must already agree; the privacy engine
// checks them before calling.
func (g Grads) Add(o Grads) {
	for i := range g {
		g[i].Add(g[i], o[i])
	}
}

func (g Grads) Scale(s float64) {
	for _, m := range g {
		m.Scale(s, m)
	}
}

// GlobalNorm is the norm of the full flattened gradient vector.
func (g Grads) GlobalNorm() float64 {
	return utils.GradNorm(g...)
}

// ShapeCheck verifies that g matches the registry tensor-for-tensor.
func (g Grads) ShapeCheck(ps []*Parameter) error {
	if len(g) != len(ps) {
		return fmt.Errorf("gradient set has %d tensors, model has %d parameters", len(g), len(ps))
	}
	for i, p := range ps {
		gr, gc := g[i].Dims()
		pr, pc := p.W.Dims()
		if gr != pr || gc != pc {
			return fmt.Errorf("gradient shape mismatch for %q: grad (%dx%d), param (%dx%d)",
				p.Name, gr, gc, pr, pc)
		}
	}
	return nil
}

// CheckFinite reports the first non-finite gradient entry, if any.
func (g Grads) CheckFinite(ps []*Parameter) error {
	for i, m := range g {
		r, c := m.Dims()
		for x := 0; x < r; x++ {
			for y := 0; y < c; y++ {
				if v := m.At(x, y); math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("non-finite gradient in %q at (%d,%d): %g", ps[i].Name, x, y, v)
				}
			}
		}
	}
	return nil
}
