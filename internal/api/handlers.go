package api

import (
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
	"github.com/bbernhard/cifar-playground/internal/predict"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotAnImage   = errors.New("only image files are accepted")
	ErrTooManyFiles = errors.New("too many files in batch")
	ErrNoFiles      = errors.New("no files uploaded")
	ErrBodyTooLarge = errors.New("request body too large")
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "CNN Image Classifier API",
		"status":  "active",
		"version": s.opts.Version,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, datastructures.HealthStatus{
		Status:      "healthy",
		ModelLoaded: s.classifier.IsLoaded(),
		Trained:     s.classifier.Trained(),
		Timestamp:   time.Now(),
	})
}

func (s *Server) handleModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, datastructures.ModelInfo{
		ModelName:   ModelName,
		InputShape:  InputShape,
		Classes:     s.classifier.Labels(),
		Accuracy:    s.classifier.Accuracy(),
		Description: ModelDescription,
		Trained:     s.classifier.Trained(),
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		uploadError(c, err, "Picture is missing")
		return
	}
	if !isImage(header) {
		writeError(c, http.StatusBadRequest, ErrNotAnImage.Error())
		return
	}

	img, err := s.openImage(header)
	if err != nil {
		s.imageError(c, err, header.Filename)
		return
	}

	result, err := s.classifier.Predict(img)
	if err != nil {
		s.serverError(c, err, header.Filename)
		return
	}

	s.history.Append(datastructures.HistoryEntry{
		Timestamp:      time.Now(),
		Filename:       header.Filename,
		PredictedClass: result.PredictedClass,
		Confidence:     result.Confidence,
	})
	log.Info("[API] Prediction: ", result.PredictedClass, fmt.Sprintf(" (%.2f%%)", result.Confidence))

	c.JSON(http.StatusOK, result)
}

// handlePredictBatch preprocesses every upload before classifying any of
// them; a single unreadable image or failed inference fails the whole
// request. Only the 32x32 tensors are kept between the two passes.
func (s *Server) handlePredictBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		uploadError(c, err, ErrNoFiles.Error())
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		writeError(c, http.StatusBadRequest, ErrNoFiles.Error())
		return
	}
	if len(files) > s.opts.MaxBatchFiles {
		writeError(c, http.StatusBadRequest,
			fmt.Sprintf("%s: at most %d images per request", ErrTooManyFiles, s.opts.MaxBatchFiles))
		return
	}

	inputs := make([]predict.Tensor, len(files))
	for i, header := range files {
		img, err := s.openImage(header)
		if err != nil {
			s.imageError(c, fmt.Errorf("%s: %w", header.Filename, err), header.Filename)
			return
		}
		inputs[i], err = predict.Preprocess(img)
		if err != nil {
			s.serverError(c, fmt.Errorf("%s: preprocessing image: %w", header.Filename, err), header.Filename)
			return
		}
	}

	predictions := make([]datastructures.BatchPrediction, 0, len(files))
	for i, input := range inputs {
		result, err := s.classifier.PredictTensor(input)
		if err != nil {
			s.serverError(c, fmt.Errorf("%s: %w", files[i].Filename, err), files[i].Filename)
			return
		}
		predictions = append(predictions, datastructures.BatchPrediction{
			Filename:         files[i].Filename,
			PredictionResult: result,
		})
	}

	log.Debug("[API] Batch prediction of ", len(predictions), " images")
	c.JSON(http.StatusOK, datastructures.BatchResponse{
		Predictions: predictions,
		Total:       len(predictions),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, datastructures.HistoryResponse{
		History: s.history.Recent(s.opts.HistoryView),
		Total:   s.history.Len(),
	})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	s.history.Clear()
	log.Debug("[API] History cleared")
	c.JSON(http.StatusOK, gin.H{"message": "History cleared successfully"})
}

func (s *Server) handlePredictAsync(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		uploadError(c, err, "Picture is missing")
		return
	}
	if !isImage(header) {
		writeError(c, http.StatusBadRequest, ErrNotAnImage.Error())
		return
	}

	data, err := readUpload(header)
	if err != nil {
		s.serverError(c, err, header.Filename)
		return
	}

	id, err := uuid.NewV4()
	if err != nil {
		s.serverError(c, fmt.Errorf("generating job id: %w", err), header.Filename)
		return
	}

	var predictionRequest datastructures.PredictionRequest
	predictionRequest.Uuid = id.String()
	predictionRequest.Filename = header.Filename
	predictionRequest.Image = data
	predictionRequest.Created = time.Now().Unix()

	if err := s.opts.Queue.Push(predictionRequest); err != nil {
		log.Debug("[Predicting] Couldn't accept request: ", err.Error())
		s.serverError(c, errors.New("Couldn't accept request - please try again later"), header.Filename)
		return
	}

	c.Header("Location", predictionRequest.Uuid)
	c.JSON(http.StatusAccepted, gin.H{"uuid": predictionRequest.Uuid})
}

func (s *Server) handleAsyncResult(c *gin.Context) {
	id := c.Param("uuid")
	if _, err := uuid.FromString(id); err != nil {
		writeError(c, http.StatusBadRequest, "invalid uuid")
		return
	}

	result, ok, err := s.opts.Queue.Result(id)
	if err != nil {
		log.Debug("[Predicting] Couldn't get status of request: ", err.Error())
		s.serverError(c, errors.New("Couldn't get status of request - please try again later"), "")
		return
	}
	if !ok {
		// nothing available yet: either the uuid is wrong or processing
		// isn't finished. At this point we don't care for the reason.
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, result)
}

func isImage(header *multipart.FileHeader) bool {
	return strings.HasPrefix(header.Header.Get("Content-Type"), "image/")
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	return data, nil
}

func (s *Server) openImage(header *multipart.FileHeader) (image.Image, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	img, err := s.classifier.DecodeImage(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}
