// Package api exposes the classifier, its metadata and the prediction history
// over HTTP.
package api

import (
	"image"
	"io"
	"net/http"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
	"github.com/bbernhard/cifar-playground/internal/history"
	"github.com/bbernhard/cifar-playground/internal/predict"
	"github.com/gin-gonic/gin"
)

const (
	ModelName        = "CNN CIFAR-10 Classifier"
	ModelDescription = "Convolutional Neural Network trained on CIFAR-10 dataset"
	InputShape       = "32x32x3"
)

// Classifier is the part of predict.Classifier the handlers use.
type Classifier interface {
	DecodeImage(r io.Reader) (image.Image, error)
	Predict(img image.Image) (datastructures.PredictionResult, error)
	PredictTensor(input predict.Tensor) (datastructures.PredictionResult, error)
	IsLoaded() bool
	Trained() bool
	Accuracy() float64
	Labels() []string
}

// AsyncQueue accepts prediction requests for background processing.
type AsyncQueue interface {
	Push(req datastructures.PredictionRequest) error
	Result(uuid string) (datastructures.AsyncPredictionResult, bool, error)
}

type Options struct {
	Version        string
	HistoryView    int
	MaxBatchFiles  int
	// MaxUploadBytes caps the request body and the multipart memory.
	MaxUploadBytes int64
	CORSOrigins    []string
	// Queue enables the /predict/async endpoints when set.
	Queue AsyncQueue
}

type Server struct {
	router     *gin.Engine
	classifier Classifier
	history    *history.Buffer
	opts       Options
}

func New(classifier Classifier, hist *history.Buffer, opts Options) *Server {
	if opts.HistoryView <= 0 {
		opts.HistoryView = 20
	}
	if opts.MaxBatchFiles <= 0 {
		opts.MaxBatchFiles = 10
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	router := gin.New()
	router.MaxMultipartMemory = opts.MaxUploadBytes
	router.Use(gin.Recovery(), requestLogger(), cors(opts.CORSOrigins), bodyLimit(opts.MaxUploadBytes))

	s := &Server{
		router:     router,
		classifier: classifier,
		history:    hist,
		opts:       opts,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
