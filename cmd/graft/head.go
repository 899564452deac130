package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/graft/internal/embedding"
	"github.com/samcharles93/graft/internal/safetensors"
)

// headJSON is the JSON form of a trained head: one weight row per class.
type headJSON struct {
	Weights [][]float32 `json:"weights"`
	Biases  []float32   `json:"biases"`
}

// embeddingsJSON holds example embeddings grouped by class, for imprinting.
type embeddingsJSON struct {
	Classes [][][]float32 `json:"classes"`
}

// loadHead reads head weights and biases from a .safetensors or .json file.
// Biases are optional in both formats.
func loadHead(path, weightsTensor, biasesTensor string) (weights, biases []float32, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return loadSafetensorsHead(path, weightsTensor, biasesTensor)
	case ".json":
		return loadJSONHead(path)
	default:
		return nil, nil, fmt.Errorf("%s: unsupported head format (want .safetensors or .json)", path)
	}
}

func loadSafetensorsHead(path, weightsTensor, biasesTensor string) ([]float32, []float32, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, nil, err
	}
	weights, info, err := f.ReadTensorF32(weightsTensor)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(info.Shape) != 2 && len(info.Shape) != 4 {
		return nil, nil, fmt.Errorf("%s: weights tensor %q has shape %v, want [classes, depth]", path, weightsTensor, info.Shape)
	}
	biases, _, err := f.ReadTensorF32(biasesTensor)
	if errors.Is(err, safetensors.ErrTensorNotFound) {
		return weights, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return weights, biases, nil
}

func loadJSONHead(path string) ([]float32, []float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var h headJSON
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(h.Weights) == 0 {
		return nil, nil, fmt.Errorf("%s: no weight rows", path)
	}
	depth := len(h.Weights[0])
	weights := make([]float32, 0, len(h.Weights)*depth)
	for i, row := range h.Weights {
		if len(row) != depth {
			return nil, nil, fmt.Errorf("%s: weight row %d has %d values, want %d", path, i, len(row), depth)
		}
		weights = append(weights, row...)
	}
	return weights, h.Biases, nil
}

// loadImprintedHead derives head weights from example embeddings.
func loadImprintedHead(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e embeddingsJSON
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	weights, _, err := embedding.ImprintWeights(e.Classes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return weights, nil
}
