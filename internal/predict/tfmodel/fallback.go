package tfmodel

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/bbernhard/cifar-playground/internal/predict"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"github.com/tensorflow/tensorflow/tensorflow/go/op"
)

// NewFallback builds the small demo CNN with random Glorot-uniform weights:
//
//	conv 3x3x32 -> maxpool 2 -> conv 3x3x64 -> maxpool 2 -> conv 3x3x64
//	-> flatten -> dense 64 -> dense numClasses (softmax)
//
// Its predictions carry no meaning; it only keeps the service answering when
// no trained model is available.
func NewFallback(numClasses int, seed int64) (*Model, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("invalid number of classes %d", numClasses)
	}
	rng := rand.New(rand.NewSource(seed))

	s := op.NewScope()
	input := op.Placeholder(s.SubScope("input"), tf.Float,
		op.PlaceholderShape(tf.MakeShape(-1, predict.InputHeight, predict.InputWidth, predict.InputChannels)))

	x := conv(s.SubScope("conv1"), rng, input, predict.InputChannels, 32) // 30x30
	x = maxPool(s.SubScope("pool1"), x)                                   // 15x15
	x = conv(s.SubScope("conv2"), rng, x, 32, 64)                         // 13x13
	x = maxPool(s.SubScope("pool2"), x)                                   // 6x6
	x = conv(s.SubScope("conv3"), rng, x, 64, 64)                         // 4x4

	const flat = 4 * 4 * 64
	x = op.Reshape(s.SubScope("flatten"), x, op.Const(s.SubScope("flatten_shape"), []int32{-1, flat}))
	x = op.Relu(s, dense(s.SubScope("dense1"), rng, x, flat, 64))
	logits := dense(s.SubScope("dense2"), rng, x, 64, numClasses)
	output := op.Softmax(s.SubScope("output"), logits)

	graph, err := s.Finalize()
	if err != nil {
		return nil, fmt.Errorf("building fallback graph: %w", err)
	}
	session, err := tf.NewSession(graph, nil)
	if err != nil {
		return nil, fmt.Errorf("starting fallback session: %w", err)
	}
	return &Model{graph: graph, session: session, input: input, output: output}, nil
}

func conv(s *op.Scope, rng *rand.Rand, x tf.Output, in, out int) tf.Output {
	filter := weights(s.SubScope("kernel"), rng, []int32{3, 3, int32(in), int32(out)}, 9*in, 9*out)
	bias := op.Const(s.SubScope("bias"), make([]float32, out))
	y := op.Conv2D(s, x, filter, []int64{1, 1, 1, 1}, "VALID")
	return op.Relu(s, op.BiasAdd(s, y, bias))
}

func maxPool(s *op.Scope, x tf.Output) tf.Output {
	return op.MaxPool(s, x, []int64{1, 2, 2, 1}, []int64{1, 2, 2, 1}, "VALID")
}

func dense(s *op.Scope, rng *rand.Rand, x tf.Output, in, out int) tf.Output {
	kernel := weights(s.SubScope("kernel"), rng, []int32{int32(in), int32(out)}, in, out)
	bias := op.Const(s.SubScope("bias"), make([]float32, out))
	return op.BiasAdd(s, op.MatMul(s, x, kernel), bias)
}

// weights returns a constant of the given shape drawn from the Glorot
// uniform distribution.
func weights(s *op.Scope, rng *rand.Rand, shape []int32, fanIn, fanOut int) tf.Output {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	values := make([]float32, n)
	for i := range values {
		values[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return op.Reshape(s, op.Const(s.SubScope("values"), values), op.Const(s.SubScope("shape"), shape))
}
