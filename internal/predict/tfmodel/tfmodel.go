// Package tfmodel runs the classifier on the TensorFlow C runtime, either from
// an exported SavedModel or from an untrained graph built in process.
package tfmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bbernhard/cifar-playground/internal/predict"
	log "github.com/sirupsen/logrus"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
)

// Default endpoint names of a Keras model exported with model.save(). The
// input placeholder is named after the first layer's input, e.g.
// serving_default_input_1 for a functional model or
// serving_default_conv2d_input for a Sequential one.
const (
	DefaultTag         = "serve"
	ServingInputPrefix = "serving_default_"
	DefaultOutputOp    = "StatefulPartitionedCall"
)

type Options struct {
	Tags []string
	// InputOp and OutputOp take an operation name with an optional ":index"
	// suffix selecting the output (default 0). An empty InputOp picks the
	// single serving_default_* placeholder of the graph.
	InputOp  string
	OutputOp string
}

// Model holds a TensorFlow session. tf.Session.Run is safe for concurrent
// use, so Predict needs no locking.
type Model struct {
	graph   *tf.Graph
	session *tf.Session
	input   tf.Output
	output  tf.Output
}

// LoadSavedModel loads the SavedModel directory at dir.
func LoadSavedModel(dir string, opts Options) (*Model, error) {
	if len(opts.Tags) == 0 {
		opts.Tags = []string{DefaultTag}
	}
	if opts.OutputOp == "" {
		opts.OutputOp = DefaultOutputOp
	}

	saved, err := tf.LoadSavedModel(dir, opts.Tags, nil)
	if err != nil {
		return nil, fmt.Errorf("loading saved model %s: %w", dir, err)
	}

	if opts.InputOp == "" {
		opts.InputOp, err = servingInput(saved.Graph)
		if err != nil {
			saved.Session.Close()
			return nil, err
		}
	}
	input, err := lookupOutput(saved.Graph, opts.InputOp)
	if err != nil {
		saved.Session.Close()
		return nil, err
	}
	output, err := lookupOutput(saved.Graph, opts.OutputOp)
	if err != nil {
		saved.Session.Close()
		return nil, err
	}

	log.Debug("[Predict] SavedModel ", dir, " input=", opts.InputOp, " output=", opts.OutputOp)
	return &Model{graph: saved.Graph, session: saved.Session, input: input, output: output}, nil
}

// servingInput finds the input placeholder of the serving_default signature.
func servingInput(graph *tf.Graph) (string, error) {
	var names []string
	for _, operation := range graph.Operations() {
		if operation.Type() == "Placeholder" && strings.HasPrefix(operation.Name(), ServingInputPrefix) {
			names = append(names, operation.Name())
		}
	}
	if len(names) != 1 {
		return "", fmt.Errorf("expected one %s* input placeholder, found %v; set model.inputOp", ServingInputPrefix, names)
	}
	return names[0], nil
}

func lookupOutput(graph *tf.Graph, name string) (tf.Output, error) {
	opName, index := name, 0
	if i := strings.LastIndex(name, ":"); i >= 0 {
		n, err := strconv.Atoi(name[i+1:])
		if err != nil {
			return tf.Output{}, fmt.Errorf("invalid output index in %q: %w", name, err)
		}
		opName, index = name[:i], n
	}

	operation := graph.Operation(opName)
	if operation == nil {
		return tf.Output{}, fmt.Errorf("operation %q not found in graph", opName)
	}
	if index >= operation.NumOutputs() {
		return tf.Output{}, fmt.Errorf("operation %q has %d outputs, wanted index %d", opName, operation.NumOutputs(), index)
	}
	return operation.Output(index), nil
}

func (m *Model) Predict(in predict.Tensor) ([]float32, error) {
	tensor, err := makeTensor(in)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}

	output, err := m.session.Run(
		map[tf.Output]*tf.Tensor{m.input: tensor},
		[]tf.Output{m.output},
		nil)
	if err != nil {
		return nil, fmt.Errorf("running session: %w", err)
	}

	// output[0] holds one probability vector per image in the batch; the
	// batch size is 1.
	batch, ok := output[0].Value().([][]float32)
	if !ok || len(batch) == 0 {
		return nil, fmt.Errorf("unexpected output of type %T", output[0].Value())
	}
	return batch[0], nil
}

func (m *Model) Close() error {
	return m.session.Close()
}

// makeTensor reshapes the flat NHWC data into the nested slices tf.NewTensor
// expects.
func makeTensor(in predict.Tensor) (*tf.Tensor, error) {
	if len(in.Shape) != 4 {
		return nil, fmt.Errorf("expected rank 4 input, got shape %v", in.Shape)
	}
	n, h, w, c := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	if n*h*w*c != len(in.Data) {
		return nil, fmt.Errorf("shape %v does not match %d values", in.Shape, len(in.Data))
	}

	nested := make([][][][]float32, n)
	i := 0
	for b := range nested {
		nested[b] = make([][][]float32, h)
		for y := range nested[b] {
			nested[b][y] = make([][]float32, w)
			for x := range nested[b][y] {
				nested[b][y][x] = in.Data[i : i+c : i+c]
				i += c
			}
		}
	}
	return tf.NewTensor(nested)
}
