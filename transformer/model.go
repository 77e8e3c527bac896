package transformer

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/T4ras123/GPT2-with-noise/params"
	"github.com/T4ras123/GPT2-with-noise/utils"
)

// Block is one pre-norm transformer block:
// x = x + attn(ln1(x)); x = x + mlp(ln2(x)).
type Block struct {
	Ln1  *LayerNorm
	Attn *Attention
	Ln2  *LayerNorm
	Mlp  *MLP
}

func (b *Block) Forward(X *mat.Dense) *mat.Dense {
	attnOut := b.Attn.Forward(b.Ln1.Forward(X))
	xRes := utils.ToDense(utils.Add(X, attnOut))
	mlpOut := b.Mlp.Forward(b.Ln2.Forward(xRes))
	return utils.ToDense(utils.Add(xRes, mlpOut))
}

// Backward accumulates parameter gradients into g and returns dX.
func (b *Block) Backward(dY *mat.Dense, g Grads) *mat.Dense {
	// y = xRes + mlp(ln2(xRes)); xRes = x + attn(ln1(x))
	dXres := utils.ToDense(utils.Add(dY, b.Ln2.Backward(b.Mlp.Backward(dY, g), g)))
	return utils.ToDense(utils.Add(dXres, b.Ln1.Backward(b.Attn.Backward(dXres, g), g)))
}

// Model is a decoder-only transformer over a fixed vocabulary. Activations
// are laid out column-major, (DModel x T), one example at a time, which is
// what gives the privacy engine per-example gradient visibility.
//
// Wte is the token embedding and the output projection: one tensor, two
// logical uses, one gradient slot.
type Model struct {
	Cfg params.ModelConfig

	Wte    *mat.Dense // (DModel x VocabSize)
	Wpe    *mat.Dense // (DModel x BlockSize)
	Blocks []*Block
	LnF    *LayerNorm

	registry []*Parameter
	index    map[string]int
	iWte     int
	iWpe     int

	// caches from the last Forward
	ids    []int
	xf     *mat.Dense // post-final-norm activations (DModel x T)
	logits *mat.Dense // (VocabSize x T)
}

// New constructs and initializes a model. Linear and embedding weights are
// drawn from N(0, 0.02); residual-output projections use a std scaled by
// (2*NLayer)^-0.5; biases and norm betas start at zero, norm gammas at one.
func New(cfg params.ModelConfig, seed uint64) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		Cfg:   cfg,
		index: make(map[string]int),
	}

	src := rand.NewSource(seed)
	std := distuv.Normal{Mu: 0, Sigma: 0.02, Src: src}
	resStd := distuv.Normal{Mu: 0, Sigma: 0.02 / math.Sqrt(2*float64(cfg.NLayer)), Src: src}

	d := cfg.DModel
	m.Wte = m.register("wte", TagDefault, normalDense(d, cfg.VocabSize, std))
	m.iWte = m.index["wte"]
	m.Wpe = m.register("wpe", TagDefault, normalDense(d, cfg.BlockSize, std))
	m.iWpe = m.index["wpe"]

	m.Blocks = make([]*Block, cfg.NLayer)
	for i := range m.Blocks {
		prefix := fmt.Sprintf("h.%d.", i)

		ln1 := &LayerNorm{D: d, Eps: 1e-5}
		ln1.Gamma = m.register(prefix+"ln1.g", TagDefault, onesDense(d))
		ln1.iGamma = m.index[prefix+"ln1.g"]
		ln1.Beta = m.register(prefix+"ln1.b", TagDefault, mat.NewDense(d, 1, nil))
		ln1.iBeta = m.index[prefix+"ln1.b"]

		attn := &Attention{
			NHead:     cfg.NHead,
			DModel:    d,
			DHead:     cfg.DHead(),
			att:       make([]*mat.Dense, cfg.NHead),
			maskCache: make(map[int]*mat.Dense),
		}
		attn.Wqkv = m.register(prefix+"attn.wqkv", TagDefault, normalDense(3*d, d, std))
		attn.iWqkv = m.index[prefix+"attn.wqkv"]
		attn.Bqkv = m.register(prefix+"attn.bqkv", TagDefault, mat.NewDense(3*d, 1, nil))
		attn.iBqkv = m.index[prefix+"attn.bqkv"]
		attn.Wo = m.register(prefix+"attn.wo", TagResidualOutput, normalDense(d, d, resStd))
		attn.iWo = m.index[prefix+"attn.wo"]
		attn.Bo = m.register(prefix+"attn.bo", TagDefault, mat.NewDense(d, 1, nil))
		attn.iBo = m.index[prefix+"attn.bo"]

		ln2 := &LayerNorm{D: d, Eps: 1e-5}
		ln2.Gamma = m.register(prefix+"ln2.g", TagDefault, onesDense(d))
		ln2.iGamma = m.index[prefix+"ln2.g"]
		ln2.Beta = m.register(prefix+"ln2.b", TagDefault, mat.NewDense(d, 1, nil))
		ln2.iBeta = m.index[prefix+"ln2.b"]

		hidden := 4 * d
		mlp := &MLP{DModel: d, Hidden: hidden}
		mlp.Wfc = m.register(prefix+"mlp.wfc", TagDefault, normalDense(hidden, d, std))
		mlp.iWfc = m.index[prefix+"mlp.wfc"]
		mlp.Bfc = m.register(prefix+"mlp.bfc", TagDefault, mat.NewDense(hidden, 1, nil))
		mlp.iBfc = m.index[prefix+"mlp.bfc"]
		mlp.Wproj = m.register(prefix+"mlp.wproj", TagResidualOutput, normalDense(d, hidden, resStd))
		mlp.iWproj = m.index[prefix+"mlp.wproj"]
		mlp.Bproj = m.register(prefix+"mlp.bproj", TagDefault, mat.NewDense(d, 1, nil))
		mlp.iBproj = m.index[prefix+"mlp.bproj"]

		m.Blocks[i] = &Block{Ln1: ln1, Attn: attn, Ln2: ln2, Mlp: mlp}
	}

	lnf := &LayerNorm{D: d, Eps: 1e-5}
	lnf.Gamma = m.register("lnf.g", TagDefault, onesDense(d))
	lnf.iGamma = m.index["lnf.g"]
	lnf.Beta = m.register("lnf.b", TagDefault, mat.NewDense(d, 1, nil))
	lnf.iBeta = m.index["lnf.b"]
	m.LnF = lnf

	return m, nil
}

func (m *Model) register(name, tag string, w *mat.Dense) *mat.Dense {
	m.index[name] = len(m.registry)
	m.registry = append(m.registry, &Parameter{Name: name, Tag: tag, W: w})
	return w
}

// Params returns the parameter registry in construction order.
func (m *Model) Params() []*Parameter { return m.registry }

// Param looks up a parameter by name, or nil.
func (m *Model) Param(name string) *Parameter {
	i, ok := m.index[name]
	if !ok {
		return nil
	}
	return m.registry[i]
}

// NumParams counts scalar parameters across the registry.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.registry {
		r, c := p.W.Dims()
		n += r * c
	}
	return n
}

// Forward runs one example through the model. When targets is non-nil it
// also returns the mean token-level cross-entropy; with nil targets the
// model is in inference mode and loss is 0.
func (m *Model) Forward(ids, targets []int) (*mat.Dense, float64, error) {
	T := len(ids)
	if T == 0 {
		return nil, 0, fmt.Errorf("forward: empty sequence")
	}
	if T > m.Cfg.BlockSize {
		return nil, 0, fmt.Errorf("forward: sequence length %d exceeds context length %d", T, m.Cfg.BlockSize)
	}
	for t, id := range ids {
		if id < 0 || id >= m.Cfg.VocabSize {
			return nil, 0, fmt.Errorf("forward: token id %d at position %d outside vocab [0,%d)", id, t, m.Cfg.VocabSize)
		}
	}
	if targets != nil {
		if len(targets) != T {
			return nil, 0, fmt.Errorf("forward: %d targets for %d inputs", len(targets), T)
		}
		for t, id := range targets {
			if id < 0 || id >= m.Cfg.VocabSize {
				return nil, 0, fmt.Errorf("forward: target id %d at position %d outside vocab [0,%d)", id, t, m.Cfg.VocabSize)
			}
		}
	}

	d := m.Cfg.DModel
	X := mat.NewDense(d, T, nil)
	for t := 0; t < T; t++ {
		for i := 0; i < d; i++ {
			X.Set(i, t, m.Wte.At(i, ids[t])+m.Wpe.At(i, t))
		}
	}
	m.ids = append(m.ids[:0], ids...)

	for _, b := range m.Blocks {
		X = b.Forward(X)
	}
	m.xf = m.LnF.Forward(X)

	// unembed through the tied token embedding
	m.logits = utils.ToDense(utils.Dot(m.Wte.T(), m.xf))

	if targets == nil {
		return m.logits, 0, nil
	}
	loss := 0.0
	for t := 0; t < T; t++ {
		col := utils.ToDense(m.logits.Slice(0, m.Cfg.VocabSize, t, t+1))
		probs := utils.ColVectorSoftmax(col)
		loss += -math.Log(probs.At(targets[t], 0) + 1e-12)
	}
	return m.logits, loss / float64(T), nil
}

// Backward computes this example's gradient for every registered parameter
// using the caches of the immediately preceding Forward call.
func (m *Model) Backward(targets []int) (Grads, error) {
	if m.xf == nil {
		return nil, fmt.Errorf("backward: no cached forward pass")
	}
	T := len(m.ids)
	if len(targets) != T {
		return nil, fmt.Errorf("backward: %d targets for cached sequence of length %d", len(targets), T)
	}

	g := NewGrads(m.registry)
	V := m.Cfg.VocabSize
	d := m.Cfg.DModel

	// dLogits[:,t] = (softmax(logits[:,t]) - onehot(target_t)) / T
	dLogits := mat.NewDense(V, T, nil)
	for t := 0; t < T; t++ {
		col := utils.ToDense(m.logits.Slice(0, V, t, t+1))
		probs := utils.ColVectorSoftmax(col)
		for i := 0; i < V; i++ {
			dLogits.Set(i, t, probs.At(i, 0)/float64(T))
		}
		dLogits.Set(targets[t], t, dLogits.At(targets[t], t)-1.0/float64(T))
	}

	// logits = Wte^T xf: the unembedding contribution to the tied tensor
	g[m.iWte].Add(g[m.iWte], utils.Dot(m.xf, dLogits.T()))
	dXf := utils.ToDense(utils.Dot(m.Wte, dLogits))

	dX := m.LnF.Backward(dXf, g)
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		dX = m.Blocks[i].Backward(dX, g)
	}

	// embedding-lookup contribution to the tied tensor, plus positions
	gWte := g[m.iWte]
	gWpe := g[m.iWpe]
	for t := 0; t < T; t++ {
		id := m.ids[t]
		for i := 0; i < d; i++ {
			gWte.Set(i, id, gWte.At(i, id)+dX.At(i, t))
			gWpe.Set(i, t, gWpe.At(i, t)+dX.At(i, t))
		}
	}
	return g, nil
}

func normalDense(r, c int, dist distuv.Normal) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(r, c, data)
}

func onesDense(d int) *mat.Dense {
	data := make([]float64, d)
	for i := range data {
		data[i] = 1.0
	}
	return mat.NewDense(d, 1, data)
}
