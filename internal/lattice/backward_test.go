package lattice

import (
	"math"
	"math/rand"
	"testing"

	"github.com/born-ml/transducer/internal/parallel"
)

// runGradients computes the forward tables and then the gradients for one
// example, returning (egrad, pgrad).
func runGradients(j *Joint[float64], labels []int32, T, U int, scale float64) ([]float64, []float64) {
	alpha := make([]float64, T*U)
	logNorm := make([]float64, T*U)
	Forward(j, labels, T, U, U, alpha, logNorm, parallel.Serial())

	egrad := make([]float64, T*j.Vocab)
	pgrad := make([]float64, U*j.Vocab)
	Gradients(j, labels, T, U, U, alpha, logNorm, scale, egrad, pgrad, parallel.Serial())
	return egrad, pgrad
}

// checkFiniteDifferences compares analytic gradients against central
// finite differences of the cost for every score entry.
func checkFiniteDifferences(t *testing.T, j *Joint[float64], labels []int32, T, U int) {
	t.Helper()
	const (
		eps = 1e-6
		tol = 1e-5
	)

	egrad, pgrad := runGradients(j, labels, T, U, 1)

	check := func(scores, grad []float64, name string) {
		for i := range scores {
			orig := scores[i]
			scores[i] = orig + eps
			up := forwardCost(j, labels, T, U)
			scores[i] = orig - eps
			down := forwardCost(j, labels, T, U)
			scores[i] = orig

			numeric := (up - down) / (2 * eps)
			if diff := math.Abs(grad[i] - numeric); diff > tol {
				t.Errorf("%s[%d]: analytic %v, numeric %v (diff %v)", name, i, grad[i], numeric, diff)
			}
		}
	}
	check(j.Emissions, egrad, "egrad")
	check(j.Predictions, pgrad, "pgrad")
}

// TestGradients_FiniteDifference validates the gradient assembly on
// random small lattices.
func TestGradients_FiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for trial := 0; trial < 8; trial++ {
		T := 1 + rng.Intn(4)
		U := 1 + rng.Intn(min(T, 3))
		V := 2 + rng.Intn(4)
		blank := rng.Intn(V)

		j := randomJoint(rng, T, U, V, blank)
		labels := randomLabels(rng, U, V, blank)
		checkFiniteDifferences(t, j, labels, T, U)
	}
}

// TestGradients_LabelEqualsBlank covers the corner where a label id names
// the blank symbol: both outgoing edges then emit the same symbol and
// both subtraction terms apply.
func TestGradients_LabelEqualsBlank(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	T, U, V, blank := 3, 3, 4, 1
	j := randomJoint(rng, T, U, V, blank)
	labels := []int32{int32(blank), 2}
	checkFiniteDifferences(t, j, labels, T, U)
}

// TestGradients_EmptyLabel checks the all-blanks lattice, where only
// emission and position-0 prediction entries can receive gradient.
func TestGradients_EmptyLabel(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	T, V := 4, 3
	j := randomJoint(rng, T, 1, V, 0)
	checkFiniteDifferences(t, j, nil, T, 1)
}

// TestGradients_UpstreamScale verifies the chain-rule scaling by the
// incoming cost gradient.
func TestGradients_UpstreamScale(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	T, U, V := 4, 3, 5
	j := randomJoint(rng, T, U, V, 0)
	labels := randomLabels(rng, U, V, 0)

	e1, p1 := runGradients(j, labels, T, U, 1)
	e2, p2 := runGradients(j, labels, T, U, -2.5)

	for i := range e1 {
		if math.Abs(e2[i]-(-2.5)*e1[i]) > 1e-12 {
			t.Fatalf("egrad[%d] does not scale with upstream: %v vs %v", i, e2[i], e1[i])
		}
	}
	for i := range p1 {
		if math.Abs(p2[i]-(-2.5)*p1[i]) > 1e-12 {
			t.Fatalf("pgrad[%d] does not scale with upstream: %v vs %v", i, p2[i], p1[i])
		}
	}
}

// TestGradients_RowParallelMatchesSerial compares the row-parallel
// reduction schedule against the serial one.
func TestGradients_RowParallelMatchesSerial(t *testing.T) {
	rng := rand.New(rand.NewSource(37))
	T, U, V := 80, 64, 6
	j := randomJoint(rng, T, U, V, 0)
	labels := randomLabels(rng, U, V, 0)

	alpha := make([]float64, T*U)
	logNorm := make([]float64, T*U)
	Forward(j, labels, T, U, U, alpha, logNorm, parallel.Serial())

	eSer := make([]float64, T*V)
	pSer := make([]float64, U*V)
	Gradients(j, labels, T, U, U, alpha, logNorm, 1, eSer, pSer, parallel.Serial())

	ePar := make([]float64, T*V)
	pPar := make([]float64, U*V)
	cfg := parallel.Config{Enabled: true, Workers: 4, MinGrain: 1}
	Gradients(j, labels, T, U, U, alpha, logNorm, 1, ePar, pPar, cfg)

	for i := range eSer {
		if eSer[i] != ePar[i] {
			t.Fatalf("egrad[%d]: parallel %v, serial %v", i, ePar[i], eSer[i])
		}
	}
	for i := range pSer {
		if pSer[i] != pPar[i] {
			t.Fatalf("pgrad[%d]: parallel %v, serial %v", i, pPar[i], pSer[i])
		}
	}
}
