package predict

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
	log "github.com/sirupsen/logrus"
)

// CIFAR10Labels is the index -> label mapping of the network's output layer.
var CIFAR10Labels = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// DefaultAccuracy is the test-set accuracy recorded when the shipped model
// was trained. It is reported as-is and never measured at runtime.
const DefaultAccuracy = 0.85

var (
	ErrNotLoaded     = errors.New("model is not loaded")
	ErrAlreadyLoaded = errors.New("model is already loaded")
	ErrShortOutput   = errors.New("model output has fewer values than classes")
	ErrNonFinite     = errors.New("model output contains NaN or Inf")
)

// FallbackFunc builds an untrained model with numClasses outputs.
type FallbackFunc func(numClasses int) (Model, error)

type Options struct {
	ModelPath string
	Labels    []string
	Accuracy  float64
	// MaxPixels caps the decoded size of input images, see DecodeImage.
	MaxPixels int
	Load      LoaderFunc
	Fallback  FallbackFunc
}

// Classifier owns the model handle and turns raw forward passes into ranked
// predictions. The handle is set once by Load and never replaced.
type Classifier struct {
	opts Options

	mu      sync.RWMutex
	model   Model
	status  LoadStatus
	trained bool
}

func NewClassifier(opts Options) *Classifier {
	if len(opts.Labels) == 0 {
		opts.Labels = CIFAR10Labels
	}
	if opts.Accuracy == 0 {
		opts.Accuracy = DefaultAccuracy
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Classifier{opts: opts}
}

// Load reads the persisted model. When it is absent or cannot be read an
// untrained fallback takes its place, so Load only fails if the fallback
// itself cannot be built.
func (c *Classifier) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model != nil {
		return ErrAlreadyLoaded
	}

	res := LoadResult{Status: Absent}
	if c.opts.Load != nil {
		res = c.opts.Load(c.opts.ModelPath)
	}

	switch res.Status {
	case Loaded:
		log.Info("[Predict] Loaded model from ", c.opts.ModelPath)
		c.model = res.Model
		c.status = Loaded
		c.trained = true
		return nil
	case Absent:
		log.Warn("[Predict] No model found at ", c.opts.ModelPath, ", building untrained fallback")
	case Corrupt:
		log.Warn("[Predict] Couldn't load model from ", c.opts.ModelPath, ": ", res.Reason, ", building untrained fallback")
	}

	if c.opts.Fallback == nil {
		return fmt.Errorf("model %s: %s and no fallback configured", c.opts.ModelPath, res.Status)
	}
	m, err := c.opts.Fallback(len(c.opts.Labels))
	if err != nil {
		return fmt.Errorf("building fallback model: %w", err)
	}
	c.model = m
	c.status = res.Status
	c.trained = false
	return nil
}

func (c *Classifier) Predict(img image.Image) (datastructures.PredictionResult, error) {
	start := time.Now()
	input, err := Preprocess(img)
	if err != nil {
		return datastructures.PredictionResult{}, fmt.Errorf("preprocessing image: %w", err)
	}
	return c.predict(input, start)
}

// PredictTensor classifies an already preprocessed input. The processing time
// covers inference only.
func (c *Classifier) PredictTensor(input Tensor) (datastructures.PredictionResult, error) {
	return c.predict(input, time.Now())
}

func (c *Classifier) predict(input Tensor, start time.Time) (datastructures.PredictionResult, error) {
	var res datastructures.PredictionResult

	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()
	if model == nil {
		return res, ErrNotLoaded
	}

	output, err := model.Predict(input)
	if err != nil {
		return res, fmt.Errorf("running inference: %w", err)
	}
	if len(output) < len(c.opts.Labels) {
		return res, fmt.Errorf("%w: got %d, want %d", ErrShortOutput, len(output), len(c.opts.Labels))
	}
	output = output[:len(c.opts.Labels)]
	for i, p := range output {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			return res, fmt.Errorf("%w: %s = %v", ErrNonFinite, c.opts.Labels[i], p)
		}
	}

	best := bestIndex(output)
	res.PredictedClass = c.opts.Labels[best]
	res.Confidence = round(float64(output[best])*100, 2)
	res.Probabilities = rankProbabilities(output, c.opts.Labels)
	res.ProcessingTime = round(time.Since(start).Seconds(), 3)

	log.Debug("[Predict] ", res.PredictedClass, " (", res.Confidence, "%) in ", res.ProcessingTime, "s")
	return res, nil
}

// DecodeImage decodes r within the configured pixel limit.
func (c *Classifier) DecodeImage(r io.Reader) (image.Image, error) {
	return DecodeImage(r, c.opts.MaxPixels)
}

func (c *Classifier) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model != nil
}

// Trained is false while the untrained fallback is serving.
func (c *Classifier) Trained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trained
}

func (c *Classifier) LoadStatus() LoadStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Classifier) Accuracy() float64 {
	return c.opts.Accuracy
}

func (c *Classifier) Labels() []string {
	out := make([]string, len(c.opts.Labels))
	copy(out, c.opts.Labels)
	return out
}

func (c *Classifier) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.model == nil {
		return nil
	}
	return c.model.Close()
}

// bestIndex returns the first index holding the maximum value.
func bestIndex(probabilities []float32) int {
	bestIdx := 0
	for i, p := range probabilities {
		if p > probabilities[bestIdx] {
			bestIdx = i
		}
	}
	return bestIdx
}

// rankProbabilities maps each label to its percentage, highest first. Ties
// keep label order.
func rankProbabilities(probabilities []float32, labels []string) datastructures.Probabilities {
	ranked := make(datastructures.Probabilities, len(labels))
	for i, label := range labels {
		ranked[i] = datastructures.ClassProbability{
			Label:       label,
			Probability: float64(probabilities[i]) * 100,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})
	for i := range ranked {
		ranked[i].Probability = round(ranked[i].Probability, 2)
	}
	return ranked
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
