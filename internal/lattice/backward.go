package lattice

import (
	"math"

	"github.com/born-ml/transducer/internal/parallel"
)

// Gradients accumulates one example's loss gradients into egrad (T×V,
// shaped like the emissions) and pgrad (U×V, shaped like the
// predictions), scaled by the upstream gradient of the example cost.
//
// alpha and logNorm must be exactly the tables a prior Forward call
// produced for this example (stride is the padded batch U). The beta
// table is reconstructed here from the saved log-norms, symmetrically to
// alpha but from the terminal cell:
//
//	beta[T-1,U-1] = logP(blank|T-1,U-1)
//	beta[t,u]     = logSumExp(beta[t+1,u] + logP(blank|t,u),
//	                          beta[t,u+1] + logP(labels[u]|t,u))
//
// with a summand dropped when its target cell is out of bounds. The total
// path mass logLike = alpha[0,0] + beta[0,0] = beta[0,0] normalizes the
// cell occupancies.
//
// For cell (t,u) and symbol k the loss gradient w.r.t. the local joint
// score is
//
//	exp(occ(t,u) + logP(k|t,u)) - q_k(t,u)
//
// where occ(t,u) = alpha[t,u] + beta[t,u] - logLike is the log-posterior
// of passing through the cell, and q_k is the posterior of actually
// taking edge k out of it: for k = blank that is
// exp(alpha[t,u] + logP(blank|t,u) + beta[t+1,u] - logLike) (with the
// beta term absent at the terminal cell, whose blank edge exits the
// lattice), for k = labels[u] it is
// exp(alpha[t,u] + logP(labels[u]|t,u) + beta[t,u+1] - logLike), and for
// every other symbol it is zero, leaving only the local-softmax
// normalization term.
//
// Each egrad row t is accumulated by a single reduction over u, and each
// pgrad row u by a single reduction over t, so rows may be processed
// concurrently without atomics.
func Gradients[F Float](j *Joint[F], labels []int32, T, U, stride int, alpha, logNorm []F, scale F, egrad, pgrad []F, cfg parallel.Config) {
	beta := make([]F, T*U)
	fillBeta(j, labels, T, U, stride, logNorm, beta, cfg)
	logLike := beta[0]

	V := j.Vocab

	// Emission gradients: one reduction per time row.
	parallel.For(T, func(t int) {
		for u := 0; u < U; u++ {
			z := logNorm[t*stride+u]
			a := alpha[t*stride+u]
			occ := float64(a + beta[t*U+u] - logLike)

			for k := 0; k < V; k++ {
				g := math.Exp(occ + float64(j.LogProb(z, t, u, k)))
				g -= edgePosterior(j, labels, T, U, z, a, logLike, beta, t, u, k)
				egrad[t*V+k] += F(g) * scale
			}
		}
	}, cfg)

	// Prediction gradients: one reduction per output position.
	parallel.For(U, func(u int) {
		for t := 0; t < T; t++ {
			z := logNorm[t*stride+u]
			a := alpha[t*stride+u]
			occ := float64(a + beta[t*U+u] - logLike)

			for k := 0; k < V; k++ {
				g := math.Exp(occ + float64(j.LogProb(z, t, u, k)))
				g -= edgePosterior(j, labels, T, U, z, a, logLike, beta, t, u, k)
				pgrad[u*V+k] += F(g) * scale
			}
		}
	}, cfg)
}

// edgePosterior returns the posterior probability that an alignment takes
// an edge emitting symbol k out of cell (t,u), the subtraction term of
// the gradient. It is nonzero only for the blank symbol and the next
// label; a label id equal to blank names the same symbol, and both edges
// then contribute.
func edgePosterior[F Float](j *Joint[F], labels []int32, T, U int, z, a, logLike F, beta []F, t, u, k int) float64 {
	q := 0.0
	if k == j.Blank {
		switch {
		case t == T-1 && u == U-1:
			// Terminal blank exits the lattice; no beta continuation.
			q += math.Exp(float64(a + j.LogProb(z, t, u, k) - logLike))
		case t+1 < T:
			q += math.Exp(float64(a + j.LogProb(z, t, u, k) + beta[(t+1)*U+u] - logLike))
		}
		// t = T-1 with u < U-1: no blank edge leaves this cell.
	}
	if u+1 < U && k == int(labels[u]) {
		q += math.Exp(float64(a + j.LogProb(z, t, u, k) + beta[t*U+u+1] - logLike))
	}
	return q
}

// fillBeta computes the backward recursion into beta (T×U, dense). Cells
// on anti-diagonal t+u depend only on cells with larger t+u, so the
// wavefront runs over diagonals in descending order when enabled.
func fillBeta[F Float](j *Joint[F], labels []int32, T, U, stride int, logNorm []F, beta []F, cfg parallel.Config) {
	cell := func(t, u int) {
		z := logNorm[t*stride+u]
		if t == T-1 && u == U-1 {
			beta[t*U+u] = j.LogProb(z, t, u, j.Blank)
			return
		}
		noEmit := negInf[F]()
		if t+1 < T {
			noEmit = beta[(t+1)*U+u] + j.LogProb(z, t, u, j.Blank)
		}
		emit := negInf[F]()
		if u+1 < U {
			emit = beta[t*U+u+1] + j.LogProb(z, t, u, int(labels[u]))
		}
		beta[t*U+u] = logSumExp(noEmit, emit)
	}

	if cfg.Enabled && T*U >= wavefrontMinCells {
		for d := T + U - 2; d >= 0; d-- {
			tLo := max(0, d-U+1)
			tHi := min(d, T-1)
			parallel.For(tHi-tLo+1, func(i int) {
				t := tLo + i
				cell(t, d-t)
			}, cfg)
		}
		return
	}

	for t := T - 1; t >= 0; t-- {
		for u := U - 1; u >= 0; u-- {
			cell(t, u)
		}
	}
}
