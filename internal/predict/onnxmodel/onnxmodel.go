// Package onnxmodel runs an exported ONNX classifier through ONNX Runtime.
package onnxmodel

import (
	"fmt"
	"sync"

	"github.com/bbernhard/cifar-playground/internal/predict"
	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultInputName  = "input"
	DefaultOutputName = "output"
)

type Options struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	NumClasses        int
}

// Model binds one input and one output tensor to an AdvancedSession, so runs
// are serialised.
type Model struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func Load(modelPath string, opts Options) (*Model, error) {
	if opts.InputName == "" {
		opts.InputName = DefaultInputName
	}
	if opts.OutputName == "" {
		opts.OutputName = DefaultOutputName
	}
	if opts.NumClasses <= 0 {
		opts.NumClasses = len(predict.CIFAR10Labels)
	}

	if !ort.IsInitialized() {
		if opts.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(opts.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	inputShape := ort.NewShape(1, predict.InputHeight, predict.InputWidth, predict.InputChannels)
	outputShape := ort.NewShape(1, int64(opts.NumClasses))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Debug("[Predict] ONNX model ", modelPath, " input=", opts.InputName, " output=", opts.OutputName)
	return &Model{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (m *Model) Predict(in predict.Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.inputTensor.GetData()
	if len(in.Data) != len(data) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(data), len(in.Data))
	}
	copy(data, in.Data)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, len(m.outputTensor.GetData()))
	copy(out, m.outputTensor.GetData())
	return out, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, destroy := range []func() error{m.session.Destroy, m.inputTensor.Destroy, m.outputTensor.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := ort.DestroyEnvironment(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
