package lattice

import (
	"github.com/born-ml/transducer/internal/parallel"
)

// wavefrontMinCells is the lattice size below which the anti-diagonal
// schedule is not worth its barrier overhead and the forward recursion
// runs row-major sequentially.
const wavefrontMinCells = 4096

// Forward fills one example's alpha and log-norm tables and returns the
// example cost, the negative log-probability of the label sequence summed
// over all alignments.
//
// alpha and logNorm are the example's rows of the padded batch tables;
// rows are laid out with the given stride (the batch's padded U). Only
// cells (t,u) with t < T and u < U are written, where T and U are this
// example's valid lengths. labels must hold at least U-1 ids.
//
// Transitions out of cell (t,u): blank advances time to (t+1,u) with
// log-weight logP(blank|t,u); label advances output to (t,u+1) with
// log-weight logP(labels[u]|t,u). The cost extends the terminal cell by
// one final blank:
//
//	cost = -(alpha[T-1,U-1] + logP(blank|T-1,U-1))
//
// Cells on the same anti-diagonal t+u depend only on cells with smaller
// t+u, so when cfg enables parallelism and the lattice is large enough,
// diagonals are processed in order with all cells of a diagonal computed
// concurrently.
func Forward[F Float](j *Joint[F], labels []int32, T, U, stride int, alpha, logNorm []F, cfg parallel.Config) F {
	cell := func(t, u int) {
		z := j.LogNorm(t, u)
		logNorm[t*stride+u] = z

		switch {
		case t == 0 && u == 0:
			alpha[0] = 0
		case u == 0:
			prev := (t - 1) * stride
			alpha[t*stride] = alpha[prev] + j.LogProb(logNorm[prev], t-1, 0, j.Blank)
		case t == 0:
			alpha[u] = alpha[u-1] + j.LogProb(logNorm[u-1], 0, u-1, int(labels[u-1]))
		default:
			up := (t-1)*stride + u
			left := t*stride + u - 1
			noEmit := alpha[up] + j.LogProb(logNorm[up], t-1, u, j.Blank)
			emit := alpha[left] + j.LogProb(logNorm[left], t, u-1, int(labels[u-1]))
			alpha[t*stride+u] = logSumExp(noEmit, emit)
		}
	}

	if cfg.Enabled && T*U >= wavefrontMinCells {
		forEachDiagonal(T, U, cell, cfg)
	} else {
		for t := 0; t < T; t++ {
			for u := 0; u < U; u++ {
				cell(t, u)
			}
		}
	}

	last := (T-1)*stride + U - 1
	return -(alpha[last] + j.LogProb(logNorm[last], T-1, U-1, j.Blank))
}

// forEachDiagonal visits every lattice cell in anti-diagonal wavefront
// order: diagonals d = t+u in 0..T+U-2, cells within a diagonal in
// parallel, with a barrier between diagonals.
func forEachDiagonal(T, U int, cell func(t, u int), cfg parallel.Config) {
	for d := 0; d <= T+U-2; d++ {
		tLo := max(0, d-U+1)
		tHi := min(d, T-1)
		parallel.For(tHi-tLo+1, func(i int) {
			t := tLo + i
			cell(t, d-t)
		}, cfg)
	}
}
