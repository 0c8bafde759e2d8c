package model

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// stump builds a one-split tree: features[feature] < threshold ? left : right.
func stump(feature int, threshold, left, right float64) *TreeNode {
	return &TreeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      &TreeNode{Value: left},
		Right:     &TreeNode{Value: right},
	}
}

func TestEnsemblePredict(t *testing.T) {
	trees := []*TreeNode{
		stump(0, 5, 1, 2),
		stump(1, 10, 10, 20),
	}
	te, err := NewTreeEnsemble("v1", 2, 0.5, 0.1, trees)
	if err != nil {
		t.Fatalf("NewTreeEnsemble: %v", err)
	}

	tests := []struct {
		features []float64
		want     float64
	}{
		{[]float64{0, 0}, 0.5 + 0.1*1 + 0.1*10},  // both left
		{[]float64{9, 50}, 0.5 + 0.1*2 + 0.1*20}, // both right
		{[]float64{4, 30}, 0.5 + 0.1*1 + 0.1*20}, // mixed
		{[]float64{5, 10}, 0.5 + 0.1*2 + 0.1*20}, // boundary goes right
	}
	for _, tt := range tests {
		got, err := te.Predict(tt.features)
		if err != nil {
			t.Fatalf("Predict(%v): %v", tt.features, err)
		}
		if got != tt.want {
			t.Errorf("Predict(%v) = %v, want %v", tt.features, got, tt.want)
		}
	}
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	te, err := NewTreeEnsemble("v1", 3, 0, 1, []*TreeNode{{Value: 1}})
	if err != nil {
		t.Fatalf("NewTreeEnsemble: %v", err)
	}
	if _, err := te.Predict([]float64{1, 2}); err == nil {
		t.Error("expected error for short feature vector")
	}
	if _, err := te.Predict(make([]float64, 4)); err == nil {
		t.Error("expected error for long feature vector")
	}
}

func TestNewTreeEnsembleValidation(t *testing.T) {
	// Split feature out of range
	if _, err := NewTreeEnsemble("v1", 2, 0, 1, []*TreeNode{stump(5, 1, 0, 0)}); err == nil {
		t.Error("expected error for out-of-range split feature")
	}
	// Split with a single child
	bad := &TreeNode{Feature: 0, Threshold: 1, Left: &TreeNode{Value: 1}}
	if _, err := NewTreeEnsemble("v1", 2, 0, 1, []*TreeNode{bad}); err == nil {
		t.Error("expected error for one-child split")
	}
	// Zero learning rate defaults to 1
	te, err := NewTreeEnsemble("v1", 1, 0, 0, []*TreeNode{{Value: 3}})
	if err != nil {
		t.Fatalf("NewTreeEnsemble: %v", err)
	}
	got, _ := te.Predict([]float64{0})
	if got != 3 {
		t.Errorf("Predict = %v, want 3 with default learning rate", got)
	}
}

func TestParseEnsemble(t *testing.T) {
	dump := `{
		"version": "m5-2016-04-24",
		"num_features": 26,
		"base_score": 1.2,
		"learning_rate": 0.3,
		"trees": [
			{"feature": 17, "threshold": 2.5,
			 "left": {"value": 0.8}, "right": {"value": 1.9}}
		]
	}`
	te, err := ParseEnsemble([]byte(dump))
	if err != nil {
		t.Fatalf("ParseEnsemble: %v", err)
	}
	if te.Version() != "m5-2016-04-24" {
		t.Errorf("Version() = %q", te.Version())
	}
	if te.NumFeatures() != 26 || te.NumTrees() != 1 {
		t.Errorf("NumFeatures/NumTrees = %d/%d", te.NumFeatures(), te.NumTrees())
	}

	features := make([]float64, 26)
	features[17] = 3
	got, err := te.Predict(features)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := 1.2 + 0.3*1.9
	if got != want {
		t.Errorf("Predict = %v, want %v", got, want)
	}
}

func TestParseEnsembleEmpty(t *testing.T) {
	if _, err := ParseEnsemble([]byte(`{"version":"v1","num_features":2,"trees":[]}`)); err == nil {
		t.Error("expected error for dump with no trees")
	}
	if _, err := ParseEnsemble([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func writeDump(t *testing.T, dir, name, version string, value float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	dump := `{"version":"` + version + `","num_features":2,"base_score":0,` +
		`"learning_rate":1,"trees":[{"value":` + strconv.FormatFloat(value, 'f', -1, 64) + `}]}`
	if err := os.WriteFile(path, []byte(dump), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRegistryLoadDirActivatesNewest(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "a.json", "v1", 1)
	writeDump(t, dir, "b.json", "v2", 2)

	r := NewRegistry(dir)
	n, err := r.LoadDir()
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d models, want 2", n)
	}

	active := r.Active()
	if active == nil {
		t.Fatal("no active model")
	}
	if active.Version != "v2" {
		t.Errorf("active version = %s, want v2", active.Version)
	}
	if got := r.Versions(); len(got) != 2 || got[0] != "v1" || got[1] != "v2" {
		t.Errorf("Versions() = %v", got)
	}
}

func TestRegistryImmutableVersions(t *testing.T) {
	dir := t.TempDir()
	path := writeDump(t, dir, "m.json", "v1", 1)

	r := NewRegistry(dir)
	if _, err := r.Register(path); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Same file again: fine
	if _, err := r.Register(path); err != nil {
		t.Errorf("re-registering identical dump: %v", err)
	}
	// Same version, different bytes: rejected
	other := writeDump(t, dir, "m2.json", "v1", 2)
	if _, err := r.Register(other); err == nil {
		t.Error("expected error re-registering version with different content")
	}
}

func TestRegistryActivate(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "a.json", "v1", 1)
	writeDump(t, dir, "b.json", "v2", 2)

	r := NewRegistry(dir)
	if _, err := r.LoadDir(); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if err := r.Activate("v1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if r.Active().Version != "v1" {
		t.Errorf("active = %s, want v1", r.Active().Version)
	}
	if err := r.Activate("v9"); err == nil {
		t.Error("expected error activating unknown version")
	}
}
