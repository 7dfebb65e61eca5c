package match

import (
	"fmt"
	"math"
	"os"

	apperrors "fundgraph/backend/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Weights are the relative importance of the three overlap criteria
type Weights struct {
	Sector   float64 `yaml:"sector" json:"sector"`
	Stage    float64 `yaml:"stage" json:"stage"`
	Location float64 `yaml:"location" json:"location"`
}

// DefaultWeights returns {sector: 0.4, stage: 0.35, location: 0.25}
func DefaultWeights() Weights {
	return Weights{Sector: 0.4, Stage: 0.35, Location: 0.25}
}

// Sum returns the normalization denominator
func (w Weights) Sum() float64 {
	return w.Sector + w.Stage + w.Location
}

// Validate rejects negative or non-finite weights and an all-zero set
func (w Weights) Validate() error {
	for _, v := range []float64{w.Sector, w.Stage, w.Location} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.NewConfigValidationFailed("match weights", "weights must be finite")
		}
	}
	if w.Sector < 0 || w.Stage < 0 || w.Location < 0 {
		return apperrors.NewConfigValidationFailed("match weights", "weights must not be negative")
	}
	if w.Sum() <= 0 {
		return apperrors.NewConfigValidationFailed("match weights", "at least one weight must be positive")
	}
	return nil
}

// LoadWeights reads a YAML weights file. Keys missing from the file keep
// the fallback values.
func LoadWeights(path string, fallback Weights) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback, fmt.Errorf("failed to read weights file: %w", err)
	}
	w := fallback
	if err := yaml.Unmarshal(data, &w); err != nil {
		return fallback, fmt.Errorf("failed to parse weights file %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return fallback, err
	}
	return w, nil
}
