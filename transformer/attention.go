package transformer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/T4ras123/GPT2-with-noise/utils"
)

// Attention is causal multi-head self-attention over a (DModel x T) input.
// Queries, keys and values come from one fused projection; the per-head
// split is a row partition of the fused output.
type Attention struct {
	NHead  int
	DModel int
	DHead  int

	Wqkv *mat.Dense // (3*DModel x DModel)
	Bqkv *mat.Dense // (3*DModel x 1)
	Wo   *mat.Dense // (DModel x DModel), residual-output projection
	Bo   *mat.Dense // (DModel x 1)

	iWqkv, iBqkv, iWo, iBo int

	// caches from the last Forward
	x   *mat.Dense   // input (DModel x T)
	qkv *mat.Dense   // fused projection (3*DModel x T)
	att []*mat.Dense // per-head post-softmax weights (T x T)
	cat *mat.Dense   // concatenated head outputs (DModel x T)

	maskCache map[int]*mat.Dense
}

// head returns views of q, k, v rows for head h inside a fused (3d x T)
// matrix. Views share storage with qkv.
func (attn *Attention) head(qkv *mat.Dense, h int) (q, k, v *mat.Dense) {
	_, T := qkv.Dims()
	base := h * attn.DHead
	q = qkv.Slice(base, base+attn.DHead, 0, T).(*mat.Dense)
	k = qkv.Slice(attn.DModel+base, attn.DModel+base+attn.DHead, 0, T).(*mat.Dense)
	v = qkv.Slice(2*attn.DModel+base, 2*attn.DModel+base+attn.DHead, 0, T).(*mat.Dense)
	return q, k, v
}

func (attn *Attention) Forward(X *mat.Dense) *mat.Dense {
	attn.x = X
	_, T := X.Dims()

	qkv := utils.AddBias(utils.ToDense(utils.Dot(attn.Wqkv, X)), attn.Bqkv)
	attn.qkv = qkv

	mask, ok := attn.maskCache[T]
	if !ok {
		mask = utils.CausalMask(T)
		attn.maskCache[T] = mask
	}

	rescale := 1.0 / math.Sqrt(float64(attn.DHead))
	cat := mat.NewDense(attn.DModel, T, nil)
	for h := 0; h < attn.NHead; h++ {
		q, k, v := attn.head(qkv, h)

		// S = (Q^T K)/sqrt(dHead), rows are query positions
		scores := mat.NewDense(T, T, nil)
		scores.Mul(q.T(), k)
		scores.Scale(rescale, scores)

		A := mat.NewDense(T, T, nil)
		utils.RowSoftmaxMaskedInPlace(A, scores, mask)
		attn.att[h] = A

		// O = V * A^T, column t mixes values at positions <= t
		o := mat.NewDense(attn.DHead, T, nil)
		o.Mul(v, A.T())

		base := h * attn.DHead
		dst := cat.Slice(base, base+attn.DHead, 0, T).(*mat.Dense)
		dst.Copy(o)
	}
	attn.cat = cat

	return utils.AddBias(utils.ToDense(utils.Dot(attn.Wo, cat)), attn.Bo)
}

// Backward accumulates parameter gradients into g and returns dX for the
// cached input.
func (attn *Attention) Backward(dY *mat.Dense, g Grads) *mat.Dense {
	_, T := dY.Dims()
	rescale := 1.0 / math.Sqrt(float64(attn.DHead))

	g[attn.iWo].Add(g[attn.iWo], utils.Dot(dY, attn.cat.T()))
	addRowSum(g[attn.iBo], dY)
	dCat := utils.ToDense(utils.Dot(attn.Wo.T(), dY))

	dQKV := mat.NewDense(3*attn.DModel, T, nil)
	for h := 0; h < attn.NHead; h++ {
		q, k, v := attn.head(attn.qkv, h)
		A := attn.att[h]
		base := h * attn.DHead
		dO := dCat.Slice(base, base+attn.DHead, 0, T).(*mat.Dense)

		// O = V A^T
		dV := utils.ToDense(utils.Dot(dO, A))     // (dHead x T)
		dA := utils.ToDense(utils.Dot(dO.T(), v)) // (T x T)

		// A = softmax_row(S); masked entries have A=0, so dS is 0 there
		dS := utils.SoftmaxBackward(dA, A)

		// S = Q^T K / sqrt(dHead)
		dQ := utils.ToDense(utils.Dot(k, dS.T()))
		dQ.Scale(rescale, dQ)
		dK := utils.ToDense(utils.Dot(q, dS))
		dK.Scale(rescale, dK)

		dQKV.Slice(base, base+attn.DHead, 0, T).(*mat.Dense).Copy(dQ)
		dQKV.Slice(attn.DModel+base, attn.DModel+base+attn.DHead, 0, T).(*mat.Dense).Copy(dK)
		dQKV.Slice(2*attn.DModel+base, 2*attn.DModel+base+attn.DHead, 0, T).(*mat.Dense).Copy(dV)
	}

	g[attn.iWqkv].Add(g[attn.iWqkv], utils.Dot(dQKV, attn.x.T()))
	addRowSum(g[attn.iBqkv], dQKV)

	return utils.ToDense(utils.Dot(attn.Wqkv.T(), dQKV))
}

// addRowSum accumulates the per-row sum of m into the (r x 1) dst, the bias
// gradient for a bias broadcast across columns.
func addRowSum(dst, m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		s := 0.0
		for t := 0; t < c; t++ {
			s += m.At(i, t)
		}
		dst.Set(i, 0, dst.At(i, 0)+s)
	}
}
