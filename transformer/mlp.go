package transformer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/T4ras123/GPT2-with-noise/utils"
)

// MLP is the position-wise feed-forward sublayer: expand DModel by 4x, GELU,
// project back. The down-projection is a residual-output parameter.
type MLP struct {
	DModel int
	Hidden int

	Wfc   *mat.Dense // (4*DModel x DModel)
	Bfc   *mat.Dense // (4*DModel x 1)
	Wproj *mat.Dense // (DModel x 4*DModel), residual-output projection
	Bproj *mat.Dense // (DModel x 1)

	iWfc, iBfc, iWproj, iBproj int

	// caches from the last Forward
	x   *mat.Dense // input (DModel x T)
	pre *mat.Dense // pre-activation (Hidden x T)
	h   *mat.Dense // GELU output (Hidden x T)
}

func (mlp *MLP) Forward(X *mat.Dense) *mat.Dense {
	mlp.x = X
	mlp.pre = utils.AddBias(utils.ToDense(utils.Dot(mlp.Wfc, X)), mlp.Bfc)
	mlp.h = utils.Apply(utils.GeluApply, mlp.pre)
	return utils.AddBias(utils.ToDense(utils.Dot(mlp.Wproj, mlp.h)), mlp.Bproj)
}

// Backward accumulates parameter gradients into g and returns dX.
func (mlp *MLP) Backward(dY *mat.Dense, g Grads) *mat.Dense {
	g[mlp.iWproj].Add(g[mlp.iWproj], utils.Dot(dY, mlp.h.T()))
	addRowSum(g[mlp.iBproj], dY)

	dh := utils.ToDense(utils.Dot(mlp.Wproj.T(), dY))
	r, c := dh.Dims()
	dpre := mat.NewDense(r, c, nil)
	dpre.MulElem(dh, utils.GeluPrime(mlp.pre))

	g[mlp.iWfc].Add(g[mlp.iWfc], utils.Dot(dpre, mlp.x.T()))
	addRowSum(g[mlp.iBfc], dpre)

	return utils.ToDense(utils.Dot(mlp.Wfc.T(), dpre))
}
