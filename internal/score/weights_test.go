package score

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWeightsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_weights.json")

	w, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if w != DefaultWeights() {
		t.Errorf("LoadWeights(missing) = %+v, want defaults", w)
	}
}

func TestSaveAndLoadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_weights.json")

	w := DefaultWeights()
	w.CloudCoverOptimal = 0.45
	w.Humidity = 1.8

	if err := SaveWeights(path, w); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}

	got, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if got != w {
		t.Errorf("round trip = %+v, want %+v", got, w)
	}
}

func TestLoadWeightsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_weights.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadWeights(path); err == nil {
		t.Error("LoadWeights(malformed) expected error, got nil")
	}
}
