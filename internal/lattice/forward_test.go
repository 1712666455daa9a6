package lattice

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/transducer/internal/parallel"
)

// randomJoint builds a float64 example with scores in [-1, 1).
func randomJoint(rng *rand.Rand, T, U, V, blank int) *Joint[float64] {
	em := make([]float64, T*V)
	for i := range em {
		em[i] = rng.Float64()*2 - 1
	}
	pr := make([]float64, U*V)
	for i := range pr {
		pr[i] = rng.Float64()*2 - 1
	}
	return &Joint[float64]{Emissions: em, Predictions: pr, Vocab: V, Blank: blank}
}

// randomLabels draws U-1 label ids, excluding blank.
func randomLabels(rng *rand.Rand, U, V, blank int) []int32 {
	labels := make([]int32, U-1)
	for i := range labels {
		id := rng.Intn(V - 1)
		if id >= blank {
			id++
		}
		labels[i] = int32(id)
	}
	return labels
}

// forwardCost runs the forward recursion with fresh tables.
func forwardCost(j *Joint[float64], labels []int32, T, U int) float64 {
	alpha := make([]float64, T*U)
	logNorm := make([]float64, T*U)
	return Forward(j, labels, T, U, U, alpha, logNorm, parallel.Serial())
}

// bruteForceCost enumerates every monotonic alignment and sums the path
// probabilities directly.
func bruteForceCost(j *Joint[float64], labels []int32, T, U int) float64 {
	logProb := func(t, u, k int) float64 {
		return j.LogProb(j.LogNorm(t, u), t, u, k)
	}

	var paths []float64
	var walk func(t, u int, lp float64)
	walk = func(t, u int, lp float64) {
		if t == T-1 && u == U-1 {
			paths = append(paths, lp+logProb(t, u, j.Blank))
			return
		}
		if t+1 < T {
			walk(t+1, u, lp+logProb(t, u, j.Blank))
		}
		if u+1 < U {
			walk(t, u+1, lp+logProb(t, u, int(labels[u])))
		}
	}
	walk(0, 0, 0)
	return -floats.LogSumExp(paths)
}

// TestForward_UniformToy checks the closed-form scenario: two time steps,
// one label, uniform logits. Both alignments (blank,label) and
// (label,blank) end with the terminal blank, so each carries probability
// 0.5^3 = 1/8 and the cost is -log(1/4) = 2 log 2.
func TestForward_UniformToy(t *testing.T) {
	j := &Joint[float64]{
		Emissions:   make([]float64, 2*2),
		Predictions: make([]float64, 2*2),
		Vocab:       2,
		Blank:       0,
	}
	cost := forwardCost(j, []int32{1}, 2, 2)
	if math.Abs(cost-2*math.Log(2)) > 1e-12 {
		t.Errorf("uniform toy cost = %v, want 2 log(2) = %v", cost, 2*math.Log(2))
	}
}

// TestForward_EmptyLabel checks the all-blanks degenerate lattice against
// its closed form: cost = -sum over t of logP(blank | t, 0).
func TestForward_EmptyLabel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	T, V := 5, 4
	j := randomJoint(rng, T, 1, V, 0)

	cost := forwardCost(j, nil, T, 1)

	want := 0.0
	for ts := 0; ts < T; ts++ {
		want -= j.LogProb(j.LogNorm(ts, 0), ts, 0, j.Blank)
	}
	if math.Abs(cost-want) > 1e-12 {
		t.Errorf("empty-label cost = %v, want %v", cost, want)
	}
}

// TestForward_SingleStep checks the minimal T=1 lattice: the only path
// emits every label at time 0 and ends with one blank.
func TestForward_SingleStep(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	j := randomJoint(rng, 1, 2, 3, 0)
	labels := []int32{2}

	cost := forwardCost(j, labels, 1, 2)

	want := -(j.LogProb(j.LogNorm(0, 0), 0, 0, 2) + j.LogProb(j.LogNorm(0, 1), 0, 1, 0))
	if math.Abs(cost-want) > 1e-12 {
		t.Errorf("single-step cost = %v, want %v", cost, want)
	}
}

// TestForward_BruteForce compares the recursion against full path
// enumeration on small random lattices.
func TestForward_BruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 25; trial++ {
		T := 1 + rng.Intn(5)
		U := 1 + rng.Intn(min(T, 4))
		V := 2 + rng.Intn(4)
		blank := rng.Intn(V)

		j := randomJoint(rng, T, U, V, blank)
		labels := randomLabels(rng, U, V, blank)

		got := forwardCost(j, labels, T, U)
		want := bruteForceCost(j, labels, T, U)
		if math.Abs(got-want) > 1e-10 {
			t.Errorf("trial %d (T=%d U=%d V=%d blank=%d): cost %v, brute force %v",
				trial, T, U, V, blank, got, want)
		}
		if got < 0 {
			t.Errorf("trial %d: negative cost %v", trial, got)
		}
	}
}

// TestForward_WavefrontMatchesSequential runs a lattice large enough to
// trigger the anti-diagonal schedule and compares every table cell with
// the sequential result.
func TestForward_WavefrontMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	T, U, V := 90, 60, 7
	j := randomJoint(rng, T, U, V, 0)
	labels := randomLabels(rng, U, V, 0)

	alphaSeq := make([]float64, T*U)
	normSeq := make([]float64, T*U)
	costSeq := Forward(j, labels, T, U, U, alphaSeq, normSeq, parallel.Serial())

	alphaPar := make([]float64, T*U)
	normPar := make([]float64, T*U)
	cfg := parallel.Config{Enabled: true, Workers: 4, MinGrain: 1}
	costPar := Forward(j, labels, T, U, U, alphaPar, normPar, cfg)

	if costSeq != costPar {
		t.Errorf("wavefront cost %v differs from sequential %v", costPar, costSeq)
	}
	for i := range alphaSeq {
		if alphaSeq[i] != alphaPar[i] {
			t.Fatalf("alpha[%d]: wavefront %v, sequential %v", i, alphaPar[i], alphaSeq[i])
		}
		if normSeq[i] != normPar[i] {
			t.Fatalf("logNorm[%d]: wavefront %v, sequential %v", i, normPar[i], normSeq[i])
		}
	}
}

// TestForward_PaddedStride verifies that tables laid out with a wider row
// stride (batch padding) hold the same values in their valid cells.
func TestForward_PaddedStride(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	T, U, V := 4, 3, 5
	j := randomJoint(rng, T, U, V, 1)
	labels := randomLabels(rng, U, V, 1)

	alphaDense := make([]float64, T*U)
	normDense := make([]float64, T*U)
	costDense := Forward(j, labels, T, U, U, alphaDense, normDense, parallel.Serial())

	stride := U + 3
	alphaWide := make([]float64, T*stride)
	normWide := make([]float64, T*stride)
	costWide := Forward(j, labels, T, U, stride, alphaWide, normWide, parallel.Serial())

	if costDense != costWide {
		t.Errorf("padded-stride cost %v differs from dense %v", costWide, costDense)
	}
	for ts := 0; ts < T; ts++ {
		for u := 0; u < U; u++ {
			if alphaDense[ts*U+u] != alphaWide[ts*stride+u] {
				t.Fatalf("alpha[%d,%d] differs across strides", ts, u)
			}
		}
	}
}
