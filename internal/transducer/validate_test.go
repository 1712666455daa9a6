package transducer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/transducer/internal/tensor"
)

func TestCertify_RejectsBadInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(61))
	good := randomBatch(t, rng, []int32{3, 2}, []int32{1, 1}, 4)

	f32 := func(shape tensor.Shape) *tensor.Tensor {
		out, err := tensor.New(shape, tensor.Float32, tensor.CPU)
		require.NoError(t, err)
		return out
	}
	i32 := func(vals []int32, shape tensor.Shape) *tensor.Tensor {
		out, err := tensor.FromSlice(vals, shape, tensor.CPU)
		require.NoError(t, err)
		return out
	}

	cases := []struct {
		name  string
		em    *tensor.Tensor
		pr    *tensor.Tensor
		lab   *tensor.Tensor
		il    *tensor.Tensor
		ll    *tensor.Tensor
		blank int
		want  error
	}{
		{
			name: "emissions not 3D",
			em:   f32(tensor.Shape{2, 3 * 4}),
			want: ErrInvalidShape,
		},
		{
			name: "predictions not 3D",
			pr:   f32(tensor.Shape{2, 2 * 4}),
			want: ErrInvalidShape,
		},
		{
			name: "labels not 2D",
			lab:  i32([]int32{1, 1}, tensor.Shape{2, 1, 1}),
			want: ErrInvalidShape,
		},
		{
			name: "emissions not float",
			em:   i32(make([]int32, 2*3*4), tensor.Shape{2, 3, 4}),
			want: ErrInvalidType,
		},
		{
			name: "mixed float widths",
			pr: func() *tensor.Tensor {
				out, err := tensor.New(tensor.Shape{2, 2, 4}, tensor.Float64, tensor.CPU)
				require.NoError(t, err)
				return out
			}(),
			want: ErrInvalidType,
		},
		{
			name: "labels not int32",
			lab:  f32(tensor.Shape{2, 1}),
			want: ErrInvalidType,
		},
		{
			name: "vocab mismatch",
			pr:   f32(tensor.Shape{2, 2, 5}),
			want: ErrInvalidShape,
		},
		{
			name: "batch mismatch",
			pr:   f32(tensor.Shape{3, 2, 4}),
			want: ErrInvalidShape,
		},
		{
			name: "labels wrong width",
			lab:  i32([]int32{1, 1, 1, 1}, tensor.Shape{2, 2}),
			want: ErrInvalidShape,
		},
		{
			name:  "blank out of range",
			blank: 4,
			want:  ErrInvalidShape,
		},
		{
			name:  "blank negative",
			blank: -1,
			want:  ErrInvalidShape,
		},
		{
			name: "label id out of range",
			lab:  i32([]int32{1, 9}, tensor.Shape{2, 1}),
			want: ErrInvalidShape,
		},
		{
			name: "input length zero",
			il:   i32([]int32{3, 0}, tensor.Shape{2}),
			want: ErrDegenerate,
		},
		{
			name: "negative label length",
			ll:   i32([]int32{1, -1}, tensor.Shape{2}),
			want: ErrDegenerate,
		},
		{
			name: "more labels than input steps",
			il:   i32([]int32{3, 1}, tensor.Shape{2}),
			ll:   i32([]int32{1, 2}, tensor.Shape{2}),
			lab:  i32([]int32{1, 1, 1, 1}, tensor.Shape{2, 2}),
			pr:   f32(tensor.Shape{2, 3, 4}),
			want: ErrDegenerate,
		},
		{
			name: "padding longer than max input length",
			il:   i32([]int32{2, 2}, tensor.Shape{2}),
			want: ErrInvalidShape,
		},
		{
			name: "padding longer than max label length",
			ll:   i32([]int32{0, 0}, tensor.Shape{2}),
			want: ErrInvalidShape,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			em, pr, lab := good.emissions, good.predictions, good.labels
			il, ll := good.inputLens, good.labelLens
			if tc.em != nil {
				em = tc.em
			}
			if tc.pr != nil {
				pr = tc.pr
			}
			if tc.lab != nil {
				lab = tc.lab
			}
			if tc.il != nil {
				il = tc.il
			}
			if tc.ll != nil {
				ll = tc.ll
			}

			_, _, err := Forward(em, pr, lab, il, ll, tc.blank)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCertify_AcceptsValidBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(67))
	in := randomBatch(t, rng, []int32{3, 2}, []int32{1, 1}, 4)
	_, _, err := Forward(in.emissions, in.predictions, in.labels, in.inputLens, in.labelLens, 0)
	assert.NoError(t, err)
}

func TestBackward_RejectsMismatchedSavedState(t *testing.T) {
	rng := rand.New(rand.NewSource(71))
	in := randomBatch(t, rng, []int32{3, 2}, []int32{1, 1}, 4)

	_, state, err := Forward(in.emissions, in.predictions, in.labels, in.inputLens, in.labelLens, 0)
	require.NoError(t, err)

	badAlphas, err := tensor.New(tensor.Shape{2, 3, 3}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	_, _, err = Backward(in.emissions, in.predictions,
		&State{Alphas: badAlphas, LogNorms: state.LogNorms},
		in.labels, in.inputLens, in.labelLens, 0, ones(t, 2))
	assert.ErrorIs(t, err, ErrInvalidShape)

	badUpstream, err := tensor.FromSlice([]float64{1, 1}, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)
	_, _, err = Backward(in.emissions, in.predictions, state,
		in.labels, in.inputLens, in.labelLens, 0, badUpstream)
	assert.ErrorIs(t, err, ErrInvalidType)
}
