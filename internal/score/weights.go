package score

import (
	"encoding/json"
	"fmt"
	"os"
)

// Weights are the tunable parameters of the quality model. The JSON field
// names match the persisted weights file, which is replaced wholesale (never
// patched) so a saved artifact always reproduces the model that wrote it.
type Weights struct {
	CloudCoverOptimal float64 `json:"cloud_cover_optimal"`
	CloudCover        float64 `json:"cloud_cover_weight"`
	Humidity          float64 `json:"humidity_weight"`
	Visibility        float64 `json:"visibility_weight"`
	Pollution         float64 `json:"pollution_weight"`
	Dust              float64 `json:"dust_weight"`
}

// DefaultWeights returns the hand-tuned starting configuration.
func DefaultWeights() Weights {
	return Weights{
		CloudCoverOptimal: 0.4,
		CloudCover:        3.0,
		Humidity:          1.5,
		Visibility:        2.0,
		Pollution:         1.0,
		Dust:              2.5,
	}
}

// LoadWeights reads a weights file, falling back to DefaultWeights when the
// file does not exist. A cold start never fails; only an unreadable or
// malformed existing file is an error.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultWeights(), nil
	}
	if err != nil {
		return Weights{}, fmt.Errorf("read weights: %w", err)
	}

	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("parse weights %s: %w", path, err)
	}
	return w, nil
}

// SaveWeights writes the full configuration, replacing any existing file.
func SaveWeights(path string, w Weights) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return nil
}
