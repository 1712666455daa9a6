// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package transducer computes the RNN-Transducer sequence loss: for every
// example in a batch, the negative log-probability of its label sequence
// summed over all monotonic alignments of the input to the output, and
// the exact gradients of that loss w.r.t. the emission and prediction
// scores.
//
// The joint score of symbol k at lattice cell (t,u) is
// emissions[t,k] + predictions[u,k], normalized per cell by a log-sum-exp
// over the vocabulary that is computed on the fly, so no T×U×V joint
// tensor is ever materialized. Forward saves the alpha and log-norm
// tables in a State the caller holds between the forward and backward
// calls; there is no implicit autograd context.
//
// Example:
//
//	criterion := transducer.NewLoss(0) // blank id 0
//	costs, state, err := criterion.Forward(emissions, predictions, labels, inputLens, labelLens)
//	...
//	egrads, pgrads, err := criterion.Backward(emissions, predictions, state, labels, inputLens, labelLens, upstream)
package transducer

import (
	"github.com/born-ml/transducer/internal/transducer"
	"github.com/born-ml/transducer/tensor"
)

// Sentinel errors for the input-certification boundary; match with
// errors.Is.
var (
	ErrInvalidShape = transducer.ErrInvalidShape
	ErrInvalidType  = transducer.ErrInvalidType
	ErrDegenerate   = transducer.ErrDegenerate
)

// State carries the saved alpha and log-normalization tables from
// Forward to Backward. The caller keeps it alive between the two calls
// and drops it when the training step completes.
type State = transducer.State

// Forward computes the per-example costs (shape B) for a padded batch.
//
//   - emissions: B×T×V unnormalized scores, float32 or float64
//   - predictions: B×U×V scores of the same dtype, U = max label length + 1
//   - labels: B×(U-1) int32 label ids, shorter rows padded
//   - inputLengths, labelLengths: B int32 valid prefix lengths
//   - blank: vocabulary id of the blank symbol
//
// The computation runs on the device the score tensors reside on and is
// deterministic for identical inputs. It fails atomically, before any
// computation, with an error wrapping ErrInvalidShape, ErrInvalidType or
// ErrDegenerate.
func Forward(emissions, predictions, labels, inputLengths, labelLengths *tensor.Tensor, blank int) (*tensor.Tensor, *State, error) {
	return transducer.Forward(emissions, predictions, labels, inputLengths, labelLengths, blank)
}

// Backward computes the gradients of the per-example costs w.r.t. the
// emission scores (B×T×V) and prediction scores (B×U×V), scaling each
// example by upstream (shape B), the gradient flowing into its cost.
//
// state must be exactly the State a prior Forward returned for matching
// inputs; the result is undefined otherwise.
func Backward(emissions, predictions *tensor.Tensor, state *State, labels, inputLengths, labelLengths *tensor.Tensor, blank int, upstream *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return transducer.Backward(emissions, predictions, state, labels, inputLengths, labelLengths, blank, upstream)
}

// Loss is a module-style wrapper with a fixed blank id.
//
// Loss functions have no trainable parameters; the wrapper only carries
// configuration.
type Loss struct {
	blank int
}

// NewLoss creates a transducer loss with the given blank symbol id.
// Blank id 0 is the conventional default.
func NewLoss(blank int) *Loss {
	return &Loss{blank: blank}
}

// Blank returns the configured blank symbol id.
func (l *Loss) Blank() int {
	return l.blank
}

// Forward computes the per-example costs; see the package-level Forward.
func (l *Loss) Forward(emissions, predictions, labels, inputLengths, labelLengths *tensor.Tensor) (*tensor.Tensor, *State, error) {
	return Forward(emissions, predictions, labels, inputLengths, labelLengths, l.blank)
}

// Backward computes the score gradients; see the package-level Backward.
func (l *Loss) Backward(emissions, predictions *tensor.Tensor, state *State, labels, inputLengths, labelLengths, upstream *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	return Backward(emissions, predictions, state, labels, inputLengths, labelLengths, l.blank, upstream)
}
