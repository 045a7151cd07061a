package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbernhard/cifar-playground/internal/config"
	"github.com/bbernhard/cifar-playground/internal/predict"
	"github.com/bbernhard/cifar-playground/internal/predict/onnxmodel"
	"github.com/bbernhard/cifar-playground/internal/predict/tfmodel"
	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// loadConfig reads --config and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.GetConfig(path)
	if err != nil {
		return cfg, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model.Path = model
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig, out io.Writer) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(out)

	if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

// openModel picks the backend by artifact type: a .onnx file goes to
// onnxruntime, anything else is treated as a SavedModel directory.
func openModel(cfg config.ModelConfig, numClasses int) predict.OpenFunc {
	return func(path string) (predict.Model, error) {
		if strings.EqualFold(filepath.Ext(path), ".onnx") {
			return onnxmodel.Load(path, onnxmodel.Options{
				SharedLibraryPath: cfg.OnnxSharedLibrary,
				InputName:         cfg.InputOp,
				OutputName:        cfg.OutputOp,
				NumClasses:        numClasses,
			})
		}
		return tfmodel.LoadSavedModel(path, tfmodel.Options{
			InputOp:  cfg.InputOp,
			OutputOp: cfg.OutputOp,
		})
	}
}

func newClassifier(cfg config.ModelConfig) (*predict.Classifier, error) {
	classifier := predict.NewClassifier(predict.Options{
		ModelPath: cfg.Path,
		Labels:    predict.CIFAR10Labels,
		Accuracy:  cfg.Accuracy,
		MaxPixels: cfg.MaxPixels,
		Load:      predict.StatLoader(openModel(cfg, len(predict.CIFAR10Labels))),
		Fallback: func(numClasses int) (predict.Model, error) {
			return tfmodel.NewFallback(numClasses, cfg.FallbackSeed)
		},
	})
	if err := classifier.Load(); err != nil {
		return nil, err
	}
	return classifier, nil
}
