// Package main provides the transducer loss CLI: a version command and a
// synthetic benchmark for the forward/backward kernels.
package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/born-ml/transducer/tensor"
	"github.com/born-ml/transducer/transducer"
)

const version = "v0.1.0-dev"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "transducer",
		Short:         "RNN-Transducer sequence loss kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("transducer " + version)
		},
	})

	var (
		batch, inputLen, labelLen, vocab, iters int
		seed                                    int64
	)
	bench := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark forward/backward on a random batch",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBench(log, batch, inputLen, labelLen, vocab, iters, seed)
		},
	}
	bench.Flags().IntVar(&batch, "batch", 32, "batch size")
	bench.Flags().IntVar(&inputLen, "input-len", 200, "input time steps per example")
	bench.Flags().IntVar(&labelLen, "label-len", 50, "labels per example")
	bench.Flags().IntVar(&vocab, "vocab", 128, "vocabulary size including blank")
	bench.Flags().IntVar(&iters, "iters", 10, "timed iterations")
	bench.Flags().Int64Var(&seed, "seed", 1, "random seed")
	root.AddCommand(bench)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func runBench(log zerolog.Logger, batch, inputLen, labelLen, vocab, iters int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))

	em := make([]float32, batch*inputLen*vocab)
	for i := range em {
		em[i] = rng.Float32()*2 - 1
	}
	pr := make([]float32, batch*(labelLen+1)*vocab)
	for i := range pr {
		pr[i] = rng.Float32()*2 - 1
	}
	lab := make([]int32, batch*labelLen)
	for i := range lab {
		lab[i] = int32(1 + rng.Intn(vocab-1)) // skip blank id 0
	}
	il := make([]int32, batch)
	ll := make([]int32, batch)
	up := make([]float32, batch)
	for b := range il {
		il[b] = int32(inputLen)
		ll[b] = int32(labelLen)
		up[b] = 1
	}

	emissions, err := tensor.FromSlice(em, tensor.Shape{batch, inputLen, vocab}, tensor.CPU)
	if err != nil {
		return err
	}
	predictions, err := tensor.FromSlice(pr, tensor.Shape{batch, labelLen + 1, vocab}, tensor.CPU)
	if err != nil {
		return err
	}
	labels, err := tensor.FromSlice(lab, tensor.Shape{batch, labelLen}, tensor.CPU)
	if err != nil {
		return err
	}
	inputLens, err := tensor.FromSlice(il, tensor.Shape{batch}, tensor.CPU)
	if err != nil {
		return err
	}
	labelLens, err := tensor.FromSlice(ll, tensor.Shape{batch}, tensor.CPU)
	if err != nil {
		return err
	}
	upstream, err := tensor.FromSlice(up, tensor.Shape{batch}, tensor.CPU)
	if err != nil {
		return err
	}

	log.Info().
		Int("batch", batch).Int("input_len", inputLen).Int("label_len", labelLen).
		Int("vocab", vocab).Int("iters", iters).
		Msg("benchmarking transducer loss")

	criterion := transducer.NewLoss(0)

	var fwd, bwd time.Duration
	for i := 0; i < iters; i++ {
		start := time.Now()
		costs, state, err := criterion.Forward(emissions, predictions, labels, inputLens, labelLens)
		if err != nil {
			return err
		}
		fwd += time.Since(start)

		start = time.Now()
		if _, _, err := criterion.Backward(emissions, predictions, state, labels, inputLens, labelLens, upstream); err != nil {
			return err
		}
		bwd += time.Since(start)

		if i == 0 {
			log.Info().Float32("cost_0", costs.AsFloat32()[0]).Msg("first example cost")
		}
	}

	log.Info().
		Dur("forward_avg", fwd/time.Duration(iters)).
		Dur("backward_avg", bwd/time.Duration(iters)).
		Msg("done")
	return nil
}
