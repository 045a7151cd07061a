package datastructures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type ClassProbability struct {
	Label       string
	Probability float64
}

// Probabilities is an ordered label -> percentage mapping. It marshals to a
// JSON object whose keys keep the slice order.
type Probabilities []ClassProbability

func (p Probabilities) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cp := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cp.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(cp.Probability)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Probabilities) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("probabilities: expected object, got %v", tok)
	}

	out := Probabilities{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("probabilities: expected label, got %v", tok)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("probabilities: value for %q: %w", label, err)
		}
		out = append(out, ClassProbability{Label: label, Probability: v})
	}
	*p = out
	return nil
}

// Get returns the percentage recorded for label.
func (p Probabilities) Get(label string) (float64, bool) {
	for _, cp := range p {
		if cp.Label == label {
			return cp.Probability, true
		}
	}
	return 0, false
}

type PredictionResult struct {
	PredictedClass string        `json:"predicted_class"`
	Confidence     float64       `json:"confidence"`
	Probabilities  Probabilities `json:"probabilities"`
	ProcessingTime float64       `json:"processing_time"`
}

type BatchPrediction struct {
	Filename string `json:"filename"`
	PredictionResult
}

type BatchResponse struct {
	Predictions []BatchPrediction `json:"predictions"`
	Total       int               `json:"total"`
}

type HistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Filename       string    `json:"filename"`
	PredictedClass string    `json:"predicted_class"`
	Confidence     float64   `json:"confidence"`
}

type HistoryResponse struct {
	History []HistoryEntry `json:"history"`
	Total   int            `json:"total"`
}

type ModelInfo struct {
	ModelName   string   `json:"model_name"`
	InputShape  string   `json:"input_shape"`
	Classes     []string `json:"classes"`
	Accuracy    float64  `json:"accuracy"`
	Description string   `json:"description"`
	Trained     bool     `json:"trained"`
}

type HealthStatus struct {
	Status      string    `json:"status"`
	ModelLoaded bool      `json:"model_loaded"`
	Trained     bool      `json:"trained"`
	Timestamp   time.Time `json:"timestamp"`
}

type PredictionRequest struct {
	Uuid     string `json:"uuid"`
	Filename string `json:"filename"`
	Image    []byte `json:"image"`
	Created  int64  `json:"created"`
}

// AsyncPredictionResult is stored per job once a worker has processed it.
// Exactly one of Result and Error is set.
type AsyncPredictionResult struct {
	Uuid     string            `json:"uuid"`
	Filename string            `json:"filename"`
	Result   *PredictionResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}
