package transducer

import (
	"fmt"

	"github.com/born-ml/transducer/internal/tensor"
)

// sizes holds the padded batch dimensions shared by every input tensor.
type sizes struct {
	B int // batch size
	T int // padded input length, max over inputLengths
	U int // padded output length, max over labelLengths + 1
	V int // vocabulary size
}

// certify checks every precondition of the forward call: dimensionality,
// element types, contiguity, shape consistency across the batch, the
// padded-length equalities T = max(inputLengths) and
// U = max(labelLengths) + 1, the blank id range, label id ranges, and
// per-example lattice validity. It returns the batch sizes on success.
func certify(em, pr, labels, inputLengths, labelLengths *tensor.Tensor, blank int) (sizes, error) {
	var s sizes

	if err := checkDim(em, 3, "emissions"); err != nil {
		return s, err
	}
	if err := checkDim(pr, 3, "predictions"); err != nil {
		return s, err
	}
	if err := checkDim(labels, 2, "labels"); err != nil {
		return s, err
	}
	if err := checkDim(inputLengths, 1, "input_lengths"); err != nil {
		return s, err
	}
	if err := checkDim(labelLengths, 1, "label_lengths"); err != nil {
		return s, err
	}

	if !em.DType().IsFloat() {
		return s, fmt.Errorf("%w: emissions must be float32 or float64, got %s", ErrInvalidType, em.DType())
	}
	if pr.DType() != em.DType() {
		return s, fmt.Errorf("%w: predictions must be %s to match emissions, got %s",
			ErrInvalidType, em.DType(), pr.DType())
	}
	for _, in := range []struct {
		t    *tensor.Tensor
		name string
	}{{labels, "labels"}, {inputLengths, "input_lengths"}, {labelLengths, "label_lengths"}} {
		if in.t.DType() != tensor.Int32 {
			return s, fmt.Errorf("%w: %s must be int32, got %s", ErrInvalidType, in.name, in.t.DType())
		}
	}

	for _, in := range []struct {
		t    *tensor.Tensor
		name string
	}{{em, "emissions"}, {pr, "predictions"}, {labels, "labels"},
		{inputLengths, "input_lengths"}, {labelLengths, "label_lengths"}} {
		if !in.t.IsContiguous() {
			return s, fmt.Errorf("%w: %s must be contiguous", ErrInvalidType, in.name)
		}
	}

	if pr.Device() != em.Device() {
		return s, fmt.Errorf("%w: emissions (%s) and predictions (%s) must reside on the same device",
			ErrInvalidType, em.Device(), pr.Device())
	}

	s.B, s.T, s.V = em.Dim(0), em.Dim(1), em.Dim(2)
	s.U = pr.Dim(1)

	if pr.Dim(2) != s.V {
		return s, fmt.Errorf("%w: vocab size mismatch, emissions have %d, predictions have %d",
			ErrInvalidShape, s.V, pr.Dim(2))
	}
	if pr.Dim(0) != s.B {
		return s, fmt.Errorf("%w: predictions batch %d, emissions batch %d", ErrInvalidShape, pr.Dim(0), s.B)
	}
	if labels.Dim(0) != s.B {
		return s, fmt.Errorf("%w: must have a label row per example, got %d for batch %d",
			ErrInvalidShape, labels.Dim(0), s.B)
	}
	if inputLengths.Dim(0) != s.B {
		return s, fmt.Errorf("%w: must have an input length per example, got %d for batch %d",
			ErrInvalidShape, inputLengths.Dim(0), s.B)
	}
	if labelLengths.Dim(0) != s.B {
		return s, fmt.Errorf("%w: must have a label length per example, got %d for batch %d",
			ErrInvalidShape, labelLengths.Dim(0), s.B)
	}
	if labels.Dim(1) != s.U-1 {
		return s, fmt.Errorf("%w: labels must be padded to maximum label length %d, got %d",
			ErrInvalidShape, s.U-1, labels.Dim(1))
	}

	if blank < 0 || blank >= s.V {
		return s, fmt.Errorf("%w: blank id %d out of vocabulary range [0, %d)", ErrInvalidShape, blank, s.V)
	}

	il := inputLengths.AsInt32()
	ll := labelLengths.AsInt32()
	lab := labels.AsInt32()

	maxT, maxU := 0, 0
	for b := 0; b < s.B; b++ {
		if ll[b] < 0 {
			return s, fmt.Errorf("%w: example %d has negative label length %d", ErrDegenerate, b, ll[b])
		}
		if il[b] < 1 {
			return s, fmt.Errorf("%w: example %d has input length %d, need at least 1", ErrDegenerate, b, il[b])
		}
		if il[b] < ll[b] {
			return s, fmt.Errorf("%w: example %d cannot emit %d labels in %d input steps",
				ErrDegenerate, b, ll[b], il[b])
		}
		maxT = max(maxT, int(il[b]))
		maxU = max(maxU, int(ll[b])+1)

		for u := 0; u < int(ll[b]); u++ {
			if id := lab[b*(s.U-1)+u]; id < 0 || int(id) >= s.V {
				return s, fmt.Errorf("%w: example %d label[%d] = %d out of vocabulary range [0, %d)",
					ErrInvalidShape, b, u, id, s.V)
			}
		}
	}
	if maxT != s.T {
		return s, fmt.Errorf("%w: input length mismatch, emissions padded to %d but max(input_lengths) = %d",
			ErrInvalidShape, s.T, maxT)
	}
	if maxU != s.U {
		return s, fmt.Errorf("%w: output length mismatch, predictions padded to %d but max(label_lengths)+1 = %d",
			ErrInvalidShape, s.U, maxU)
	}

	return s, nil
}

// certifySaved checks the backward-only inputs against the forward batch
// sizes: the saved alpha/log-norm tables and the upstream cost gradient.
func certifySaved(s sizes, dtype tensor.DataType, alphas, logNorms, upstream *tensor.Tensor) error {
	want := tensor.Shape{s.B, s.T, s.U}
	for _, in := range []struct {
		t    *tensor.Tensor
		name string
	}{{alphas, "alphas"}, {logNorms, "log_norms"}} {
		if err := checkDim(in.t, 3, in.name); err != nil {
			return err
		}
		if !in.t.Shape().Equal(want) {
			return fmt.Errorf("%w: %s must have shape %s, got %s", ErrInvalidShape, in.name, want, in.t.Shape())
		}
		if in.t.DType() != dtype {
			return fmt.Errorf("%w: %s must be %s, got %s", ErrInvalidType, in.name, dtype, in.t.DType())
		}
	}

	if err := checkDim(upstream, 1, "upstream_grad"); err != nil {
		return err
	}
	if upstream.Dim(0) != s.B {
		return fmt.Errorf("%w: must have an upstream gradient per example, got %d for batch %d",
			ErrInvalidShape, upstream.Dim(0), s.B)
	}
	if upstream.DType() != dtype {
		return fmt.Errorf("%w: upstream_grad must be %s, got %s", ErrInvalidType, dtype, upstream.DType())
	}
	return nil
}

func checkDim(t *tensor.Tensor, dims int, name string) error {
	if len(t.Shape()) != dims {
		return fmt.Errorf("%w: %s must be %dD, got %s", ErrInvalidShape, name, dims, t.Shape())
	}
	return nil
}
