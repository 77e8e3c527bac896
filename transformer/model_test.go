package transformer

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/T4ras123/GPT2-with-noise/params"
)

func tinyConfig() params.ModelConfig {
	return params.ModelConfig{
		BlockSize: 8,
		VocabSize: 8,
		NLayer:    2,
		NHead:     2,
		DModel:    4,
		BatchSize: 1,
	}
}

func TestNewRejectsIndivisibleHeads(t *testing.T) {
	cfg := tinyConfig()
	cfg.DModel = 6
	cfg.NHead = 4
	if _, err := New(cfg, 1); err == nil {
		t.Fatal("expected configuration error for DModel=6, NHead=4")
	}
}

func TestForwardValidation(t *testing.T) {
	m, err := New(tinyConfig(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Forward([]int{0, 1, 2, 3, 4, 5, 6, 7, 0}, nil); err == nil {
		t.Fatal("expected error for sequence longer than block size")
	}
	if _, _, err := m.Forward([]int{0, 1, 99}, nil); err == nil {
		t.Fatal("expected error for token id outside vocab")
	}
	if _, _, err := m.Forward([]int{0, 1, 2}, []int{1, 2, 99}); err == nil {
		t.Fatal("expected error for target id outside vocab")
	}
	if _, _, err := m.Forward([]int{0, 1, 2}, []int{1, 2}); err == nil {
		t.Fatal("expected error for target length mismatch")
	}
}

func TestWeightTying(t *testing.T) {
	m, err := New(tinyConfig(), 42)
	if err != nil {
		t.Fatal(err)
	}
	p := m.Param("wte")
	if p == nil {
		t.Fatal("no wte parameter registered")
	}
	if p.W != m.Wte {
		t.Fatal("registry wte and model embedding are different tensors")
	}

	ids := []int{1, 2, 3}
	logits, _, err := m.Forward(ids, nil)
	if err != nil {
		t.Fatal(err)
	}
	before := logits.At(5, 2)

	// Mutate through the registry handle; the unembedding must see it.
	p.W.Set(0, 5, p.W.At(0, 5)+0.5)
	logits, _, err = m.Forward(ids, nil)
	if err != nil {
		t.Fatal(err)
	}
	if logits.At(5, 2) == before {
		t.Fatal("output projection did not observe embedding mutation; storage is not shared")
	}
}

func TestCausalMasking(t *testing.T) {
	m, err := New(tinyConfig(), 7)
	if err != nil {
		t.Fatal(err)
	}
	a := []int{1, 2, 3, 4, 5}
	b := []int{1, 2, 3, 7, 6} // positions 3 and 4 changed

	out, _, err := m.Forward(a, nil)
	if err != nil {
		t.Fatal(err)
	}
	la := mat.DenseCopyOf(out)
	lb, _, err := m.Forward(b, nil)
	if err != nil {
		t.Fatal(err)
	}

	V := m.Cfg.VocabSize
	for pos := 0; pos < 3; pos++ {
		for i := 0; i < V; i++ {
			if diff := math.Abs(la.At(i, pos) - lb.At(i, pos)); diff > 1e-12 {
				t.Fatalf("logits at position %d changed by %g after editing future tokens", pos, diff)
			}
		}
	}
	changed := false
	for i := 0; i < V; i++ {
		if la.At(i, 3) != lb.At(i, 3) {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("logits at an edited position did not change; model may be ignoring input")
	}
}

func TestResidualOutputTags(t *testing.T) {
	cfg := params.ModelConfig{
		BlockSize: 8,
		VocabSize: 64,
		NLayer:    2,
		NHead:     2,
		DModel:    32,
		BatchSize: 1,
	}
	m, err := New(cfg, 3)
	if err != nil {
		t.Fatal(err)
	}
	tagged := 0
	for _, p := range m.Params() {
		if p.Tag == TagResidualOutput {
			tagged++
		}
	}
	if want := 2 * cfg.NLayer; tagged != want {
		t.Fatalf("got %d residual-output parameters, want %d", tagged, want)
	}

	// The tagged projections use std 0.02/sqrt(2*NLayer) = 0.01; the fused
	// QKV keeps 0.02. Check empirically on 1024-element tensors.
	wo := m.Param("h.0.attn.wo").W
	wqkv := m.Param("h.0.attn.wqkv").W
	stdWo := empiricalStd(wo)
	stdQKV := empiricalStd(wqkv)
	if stdWo < 0.007 || stdWo > 0.013 {
		t.Fatalf("residual-output init std %.4f, want about 0.01", stdWo)
	}
	if stdQKV < 0.016 || stdQKV > 0.024 {
		t.Fatalf("default init std %.4f, want about 0.02", stdQKV)
	}
}

func empiricalStd(m *mat.Dense) float64 {
	r, c := m.Dims()
	n := float64(r * c)
	mean := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			mean += m.At(i, j)
		}
	}
	mean /= n
	ss := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := m.At(i, j) - mean
			ss += d * d
		}
	}
	return math.Sqrt(ss / (n - 1))
}

// finiteDiffCheck perturbs one element of param and compares the analytic
// gradient against a central difference of the loss.
func finiteDiffCheck(t *testing.T, name string, param, grad *mat.Dense,
	forward func() float64, i, j int) {
	t.Helper()

	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)
	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g", name, i, j, numGrad, anaGrad)
	}
}

func TestModelGradCheck(t *testing.T) {
	m, err := New(tinyConfig(), 123)
	if err != nil {
		t.Fatal(err)
	}
	ids := []int{1, 2, 3}
	targets := []int{2, 3, 4}

	forward := func() float64 {
		_, loss, err := m.Forward(ids, targets)
		if err != nil {
			t.Fatal(err)
		}
		return loss
	}

	forward()
	g, err := m.Backward(targets)
	if err != nil {
		t.Fatal(err)
	}

	check := func(name string, i, j int) {
		p := m.Param(name)
		if p == nil {
			t.Fatalf("no parameter %q", name)
		}
		finiteDiffCheck(t, name, p.W, g[m.index[name]], forward, i, j)
	}

	// The tied embedding picks up both the lookup and unembedding paths.
	check("wte", 0, 1)
	check("wte", 2, 4)
	check("wpe", 1, 1)
	check("h.0.attn.wqkv", 0, 0)
	check("h.0.attn.bqkv", 3, 0)
	check("h.0.attn.wo", 1, 2)
	check("h.1.mlp.wfc", 2, 3)
	check("h.1.mlp.wproj", 0, 5)
	check("h.0.ln1.g", 2, 0)
	check("h.1.ln2.b", 1, 0)
	check("lnf.g", 0, 0)
}

func TestInferenceModeHasNoLoss(t *testing.T) {
	m, err := New(tinyConfig(), 9)
	if err != nil {
		t.Fatal(err)
	}
	logits, loss, err := m.Forward([]int{0, 1, 2, 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 {
		t.Fatalf("inference mode returned loss %g", loss)
	}
	r, c := logits.Dims()
	if r != m.Cfg.VocabSize || c != 4 {
		t.Fatalf("logits shape (%d,%d), want (%d,4)", r, c, m.Cfg.VocabSize)
	}
}
