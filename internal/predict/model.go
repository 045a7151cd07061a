package predict

import (
	"errors"
	"fmt"
	"os"
)

// Input dimensions the CIFAR-10 network was trained on.
const (
	InputHeight   = 32
	InputWidth    = 32
	InputChannels = 3
)

// Tensor is a dense float32 tensor in NHWC layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

func NewInputTensor() Tensor {
	return Tensor{
		Shape: []int{1, InputHeight, InputWidth, InputChannels},
		Data:  make([]float32, InputHeight*InputWidth*InputChannels),
	}
}

// At returns the value at batch n, row y, column x, channel c.
func (t Tensor) At(n, y, x, c int) float32 {
	h, w, ch := t.Shape[1], t.Shape[2], t.Shape[3]
	return t.Data[((n*h+y)*w+x)*ch+c]
}

// Model runs a forward pass on a single-image batch and returns the class
// probability vector. Implementations must be safe for concurrent use.
type Model interface {
	Predict(input Tensor) ([]float32, error)
	Close() error
}

type LoadStatus int

const (
	Loaded LoadStatus = iota
	Absent
	Corrupt
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Absent:
		return "absent"
	case Corrupt:
		return "corrupt"
	}
	return fmt.Sprintf("LoadStatus(%d)", int(s))
}

// LoadResult is the outcome of reading a persisted model. Model is set only
// when Status is Loaded; Reason only when Status is Corrupt.
type LoadResult struct {
	Status LoadStatus
	Model  Model
	Reason error
}

type LoaderFunc func(path string) LoadResult

// OpenFunc opens the model artifact at path with a concrete runtime.
type OpenFunc func(path string) (Model, error)

// StatLoader reports Absent when nothing exists at path and Corrupt when open
// fails for any reason.
func StatLoader(open OpenFunc) LoaderFunc {
	return func(path string) LoadResult {
		if path == "" {
			return LoadResult{Status: Absent}
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return LoadResult{Status: Absent}
			}
			return LoadResult{Status: Corrupt, Reason: err}
		}

		m, err := open(path)
		if err != nil {
			return LoadResult{Status: Corrupt, Reason: err}
		}
		if m == nil {
			return LoadResult{Status: Corrupt, Reason: fmt.Errorf("no model returned for %s", path)}
		}
		return LoadResult{Status: Loaded, Model: m}
	}
}
