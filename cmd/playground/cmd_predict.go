package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
	"github.com/bbernhard/cifar-playground/internal/predict"
	"github.com/spf13/cobra"
)

func newPredictCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <image>...",
		Short: "Classify local image files and print the results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log, stderr); err != nil {
				return err
			}

			classifier, err := newClassifier(cfg.Model)
			if err != nil {
				return err
			}
			defer classifier.Close()

			return runPredict(classifier, args, stdout)
		},
	}
}

func runPredict(classifier *predict.Classifier, paths []string, stdout io.Writer) error {
	predictions := make([]datastructures.BatchPrediction, 0, len(paths))
	for _, path := range paths {
		result, err := predictFile(classifier, path)
		if err != nil {
			return err
		}
		predictions = append(predictions, datastructures.BatchPrediction{
			Filename:         filepath.Base(path),
			PredictionResult: result,
		})
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(datastructures.BatchResponse{
		Predictions: predictions,
		Total:       len(predictions),
	})
}

func predictFile(classifier *predict.Classifier, path string) (datastructures.PredictionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return datastructures.PredictionResult{}, err
	}
	defer f.Close()

	img, err := classifier.DecodeImage(f)
	if err != nil {
		return datastructures.PredictionResult{}, fmt.Errorf("%s: %w", path, err)
	}
	return classifier.Predict(img)
}
