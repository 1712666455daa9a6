// Package lattice implements the per-example transducer dynamic program:
// the forward (alpha) recursion over the time × output-position alignment
// lattice, and the backward (beta) recursion that yields exact gradients
// for the emission and prediction scores.
//
// All probability mass is carried in log space until the final
// exponentiation at the point of gradient accumulation. Local joint
// probabilities are computed cell by cell from one emission row and one
// prediction row, so the full time×position×vocabulary joint tensor is
// never materialized.
package lattice

import "math"

// Float constrains the kernel element types.
type Float interface {
	~float32 | ~float64
}

// logSumExp returns log(exp(a) + exp(b)).
//
// Computed as max(a,b) + log1p(exp(-|a-b|)) so it neither overflows nor
// underflows for the dynamic range of unnormalized logits. An argument of
// -Inf is a zero-probability branch and yields the other argument.
func logSumExp[F Float](a, b F) F {
	if a < b {
		a, b = b, a
	}
	// a >= b; a == -Inf only when both are, and the result is -Inf.
	if math.IsInf(float64(a), -1) {
		return a
	}
	return a + F(math.Log1p(math.Exp(float64(b-a))))
}

// negInf returns -Inf in the kernel's float width.
func negInf[F Float]() F {
	return F(math.Inf(-1))
}
