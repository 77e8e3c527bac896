package optimizations

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/T4ras123/GPT2-with-noise/transformer"
)

// AdamW holds bias-corrected first/second moment estimates per parameter and
// applies decoupled weight decay to rank >= 2 tensors only (weight matrices;
// biases and norm gains are exempt). It consumes whatever gradient it is
// handed — the privacy mechanism upstream is invisible to it.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	ps   []*transformer.Parameter
	m, v []*mat.Dense
	t    int
}

func NewAdamW(ps []*transformer.Parameter, beta1, beta2, eps, weightDecay float64) *AdamW {
	o := &AdamW{
		Beta1:       beta1,
		Beta2:       beta2,
		Eps:         eps,
		WeightDecay: weightDecay,
		ps:          ps,
		m:           make([]*mat.Dense, len(ps)),
		v:           make([]*mat.Dense, len(ps)),
	}
	for i, p := range ps {
		r, c := p.W.Dims()
		o.m[i] = mat.NewDense(r, c, nil)
		o.v[i] = mat.NewDense(r, c, nil)
	}
	return o
}

// Step applies one update: p -= lr * (mhat/(sqrt(vhat)+eps) + wd*p).
func (o *AdamW) Step(g transformer.Grads, lr float64) error {
	if len(g) != len(o.ps) {
		return fmt.Errorf("adamw: gradient set has %d tensors, expected %d", len(g), len(o.ps))
	}
	o.t++
	c1 := 1.0 / (1.0 - math.Pow(o.Beta1, float64(o.t)))
	c2 := 1.0 / (1.0 - math.Pow(o.Beta2, float64(o.t)))

	for k, p := range o.ps {
		pr, pc := p.W.Dims()
		if gr, gc := g[k].Dims(); gr != pr || gc != pc {
			return fmt.Errorf("adamw: grad shape mismatch for %q: (%dx%d) vs (%dx%d)",
				p.Name, gr, gc, pr, pc)
		}
		wd := o.WeightDecay
		if pr < 2 || pc < 2 {
			wd = 0.0 // rank < 2: biases, norm scales
		}
		m, v := o.m[k], o.v[k]
		for i := 0; i < pr; i++ {
			for j := 0; j < pc; j++ {
				gij := g[k].At(i, j)
				mij := o.Beta1*m.At(i, j) + (1.0-o.Beta1)*gij
				vij := o.Beta2*v.At(i, j) + (1.0-o.Beta2)*gij*gij
				mhat := mij * c1
				vhat := vij * c2
				update := mhat/(math.Sqrt(vhat)+o.Eps) + wd*p.W.At(i, j)
				m.Set(i, j, mij)
				v.Set(i, j, vij)
				p.W.Set(i, j, p.W.At(i, j)-lr*update)
			}
		}
	}
	return nil
}

// StepCount is the number of optimizer steps applied so far.
func (o *AdamW) StepCount() int { return o.t }
