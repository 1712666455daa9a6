package lattice

import "math"

// Joint scores one example's lattice cells on demand. The local joint
// score of symbol k at cell (t,u) is Emissions[t,k] + Predictions[u,k];
// its log-probability is that score minus the cell's log-normalization
// constant over the vocabulary.
type Joint[F Float] struct {
	Emissions   []F // T×V row-major emission scores, valid rows [0,T)
	Predictions []F // U×V row-major prediction scores, valid rows [0,U)
	Vocab       int // vocabulary size V
	Blank       int // blank symbol id, in [0,V)
}

// LogNorm computes Z(t,u) = logsumexp over k of
// Emissions[t,k] + Predictions[u,k].
//
// Two-pass max-then-sum-exp over a fixed sequential k order, so results
// are reproducible run to run. The summation is carried in float64 even
// for float32 kernels; the dominant rounding error otherwise comes from
// accumulating V exp terms at single precision.
func (j *Joint[F]) LogNorm(t, u int) F {
	em := j.Emissions[t*j.Vocab : (t+1)*j.Vocab]
	pr := j.Predictions[u*j.Vocab : (u+1)*j.Vocab]

	hi := em[0] + pr[0]
	for k := 1; k < j.Vocab; k++ {
		if s := em[k] + pr[k]; s > hi {
			hi = s
		}
	}

	sum := 0.0
	for k := 0; k < j.Vocab; k++ {
		sum += math.Exp(float64(em[k] + pr[k] - hi))
	}
	return hi + F(math.Log(sum))
}

// LogProb returns log P(k | t,u) given the cell's log-normalization
// constant z, which the caller obtained from LogNorm (or the saved
// log-norm table during the backward pass).
func (j *Joint[F]) LogProb(z F, t, u, k int) F {
	return j.Emissions[t*j.Vocab+k] + j.Predictions[u*j.Vocab+k] - z
}
