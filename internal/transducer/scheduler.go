// Package transducer drives the per-example lattice kernels across a
// padded batch: input certification, device dispatch, per-example tensor
// slicing, and the two-level parallel schedule (independent examples,
// anti-diagonal wavefront within an example).
package transducer

import (
	"fmt"
	"sync"

	"github.com/born-ml/transducer/internal/backend/webgpu"
	"github.com/born-ml/transducer/internal/lattice"
	"github.com/born-ml/transducer/internal/parallel"
	"github.com/born-ml/transducer/internal/tensor"
)

// State is the producer-consumer handoff from Forward to Backward: the
// alpha and log-normalization tables for every example, sized to the
// batch's padded (T, U). The caller keeps it alive between the two calls
// and drops it once the training step completes; there is no implicit
// autograd context.
type State struct {
	Alphas   *tensor.Tensor // B×T×U forward log-probability mass per cell
	LogNorms *tensor.Tensor // B×T×U log-sum-exp normalization per cell
}

// Forward computes the per-example transducer costs for a padded batch.
//
// emissions is B×T×V, predictions is B×U×V with U = max label length + 1,
// labels is B×(U-1) int32, inputLengths and labelLengths are B int32, and
// blank is the vocabulary id of the blank symbol. It returns the B costs
// and the saved state Backward needs, or fails atomically with an error
// wrapping ErrInvalidShape, ErrInvalidType or ErrDegenerate.
//
// The computation runs on the device the score tensors reside on.
func Forward(emissions, predictions, labels, inputLengths, labelLengths *tensor.Tensor, blank int) (*tensor.Tensor, *State, error) {
	s, err := certify(emissions, predictions, labels, inputLengths, labelLengths, blank)
	if err != nil {
		return nil, nil, err
	}

	dtype, device := emissions.DType(), emissions.Device()
	costs, err := tensor.New(tensor.Shape{s.B}, dtype, device)
	if err != nil {
		return nil, nil, err
	}
	alphas, err := tensor.New(tensor.Shape{s.B, s.T, s.U}, dtype, device)
	if err != nil {
		return nil, nil, err
	}
	logNorms, err := tensor.New(tensor.Shape{s.B, s.T, s.U}, dtype, device)
	if err != nil {
		return nil, nil, err
	}

	lab := labels.AsInt32()
	il := inputLengths.AsInt32()
	ll := labelLengths.AsInt32()

	switch {
	case device == tensor.WebGPU:
		if dtype != tensor.Float32 {
			return nil, nil, fmt.Errorf("%w: WebGPU path supports float32 only, got %s", ErrInvalidType, dtype)
		}
		be, err := gpu()
		if err != nil {
			return nil, nil, err
		}
		batch := gpuBatch(s, blank, emissions.AsFloat32(), predictions.AsFloat32(), lab, il, ll)
		if err := be.LossForward(batch, costs.AsFloat32(), alphas.AsFloat32(), logNorms.AsFloat32()); err != nil {
			return nil, nil, err
		}
	case dtype == tensor.Float32:
		forwardBatch(s, blank, emissions.AsFloat32(), predictions.AsFloat32(), lab, il, ll,
			costs.AsFloat32(), alphas.AsFloat32(), logNorms.AsFloat32())
	default:
		forwardBatch(s, blank, emissions.AsFloat64(), predictions.AsFloat64(), lab, il, ll,
			costs.AsFloat64(), alphas.AsFloat64(), logNorms.AsFloat64())
	}

	return costs, &State{Alphas: alphas, LogNorms: logNorms}, nil
}

// Backward computes the loss gradients w.r.t. the emission and prediction
// scores, scaled per example by upstream, the gradient flowing into each
// cost. state must be exactly what a prior Forward returned for the same
// inputs; that is a precondition, not a validated input.
func Backward(emissions, predictions *tensor.Tensor, state *State, labels, inputLengths, labelLengths *tensor.Tensor, blank int, upstream *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	s, err := certify(emissions, predictions, labels, inputLengths, labelLengths, blank)
	if err != nil {
		return nil, nil, err
	}
	dtype, device := emissions.DType(), emissions.Device()
	if err := certifySaved(s, dtype, state.Alphas, state.LogNorms, upstream); err != nil {
		return nil, nil, err
	}

	egrads, err := tensor.New(tensor.Shape{s.B, s.T, s.V}, dtype, device)
	if err != nil {
		return nil, nil, err
	}
	pgrads, err := tensor.New(tensor.Shape{s.B, s.U, s.V}, dtype, device)
	if err != nil {
		return nil, nil, err
	}

	lab := labels.AsInt32()
	il := inputLengths.AsInt32()
	ll := labelLengths.AsInt32()

	switch {
	case device == tensor.WebGPU:
		if dtype != tensor.Float32 {
			return nil, nil, fmt.Errorf("%w: WebGPU path supports float32 only, got %s", ErrInvalidType, dtype)
		}
		be, err := gpu()
		if err != nil {
			return nil, nil, err
		}
		batch := gpuBatch(s, blank, emissions.AsFloat32(), predictions.AsFloat32(), lab, il, ll)
		if err := be.LossBackward(batch, state.Alphas.AsFloat32(), state.LogNorms.AsFloat32(),
			upstream.AsFloat32(), egrads.AsFloat32(), pgrads.AsFloat32()); err != nil {
			return nil, nil, err
		}
	case dtype == tensor.Float32:
		backwardBatch(s, blank, emissions.AsFloat32(), predictions.AsFloat32(), lab, il, ll,
			state.Alphas.AsFloat32(), state.LogNorms.AsFloat32(), upstream.AsFloat32(),
			egrads.AsFloat32(), pgrads.AsFloat32())
	default:
		backwardBatch(s, blank, emissions.AsFloat64(), predictions.AsFloat64(), lab, il, ll,
			state.Alphas.AsFloat64(), state.LogNorms.AsFloat64(), upstream.AsFloat64(),
			egrads.AsFloat64(), pgrads.AsFloat64())
	}

	return egrads, pgrads, nil
}

// forwardBatch runs the alpha recursion for every example. Examples are
// independent and run concurrently; within an example the wavefront
// schedule is enabled only when the batch is too small to saturate the
// workers on its own.
func forwardBatch[F lattice.Float](s sizes, blank int, em, pr []F, lab, il, ll []int32, costs, alphas, logNorms []F) {
	outer, inner := schedules(s.B)
	parallel.For(s.B, func(b int) {
		j, labels := exampleView(s, blank, em, pr, lab, b)
		off := b * s.T * s.U
		costs[b] = lattice.Forward(j, labels, int(il[b]), int(ll[b])+1, s.U,
			alphas[off:off+s.T*s.U], logNorms[off:off+s.T*s.U], inner)
	}, outer)
}

// backwardBatch runs the gradient assembly for every example. The output
// tensors are freshly zeroed; each example accumulates only into its own
// slices, so example-level parallelism is race-free.
func backwardBatch[F lattice.Float](s sizes, blank int, em, pr []F, lab, il, ll []int32, alphas, logNorms, upstream, egrads, pgrads []F) {
	outer, inner := schedules(s.B)
	parallel.For(s.B, func(b int) {
		j, labels := exampleView(s, blank, em, pr, lab, b)
		off := b * s.T * s.U
		lattice.Gradients(j, labels, int(il[b]), int(ll[b])+1, s.U,
			alphas[off:off+s.T*s.U], logNorms[off:off+s.T*s.U], upstream[b],
			egrads[b*s.T*s.V:(b+1)*s.T*s.V], pgrads[b*s.U*s.V:(b+1)*s.U*s.V], inner)
	}, outer)
}

// exampleView slices one example out of the padded batch tensors.
func exampleView[F lattice.Float](s sizes, blank int, em, pr []F, lab []int32, b int) (*lattice.Joint[F], []int32) {
	j := &lattice.Joint[F]{
		Emissions:   em[b*s.T*s.V : (b+1)*s.T*s.V],
		Predictions: pr[b*s.U*s.V : (b+1)*s.U*s.V],
		Vocab:       s.V,
		Blank:       blank,
	}
	return j, lab[b*(s.U-1) : (b+1)*(s.U-1)]
}

// schedules picks the two-level parallel split: examples always fan out;
// the within-example wavefront only kicks in when the batch alone cannot
// occupy the workers.
func schedules(batch int) (outer, inner parallel.Config) {
	outer = parallel.DefaultConfig()
	outer.MinGrain = 1
	inner = parallel.Serial()
	if batch < outer.Workers {
		inner = parallel.DefaultConfig()
	}
	return outer, inner
}

// gpuBatch packs the validated inputs for the WebGPU backend.
func gpuBatch(s sizes, blank int, em, pr []float32, lab, il, ll []int32) *webgpu.LossBatch {
	return &webgpu.LossBatch{
		Emissions:    em,
		Predictions:  pr,
		Labels:       lab,
		InputLengths: il,
		LabelLengths: ll,
		B:            s.B,
		T:            s.T,
		U:            s.U,
		V:            s.V,
		Blank:        blank,
	}
}

var (
	gpuOnce    sync.Once
	gpuBackend *webgpu.Backend
	gpuErr     error
)

// gpu lazily brings up the shared WebGPU backend. Bring-up cost (instance,
// adapter, device, shader compilation) is paid once per process.
func gpu() (*webgpu.Backend, error) {
	gpuOnce.Do(func() {
		gpuBackend, gpuErr = webgpu.New()
	})
	return gpuBackend, gpuErr
}
