package ml

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 2, 2}

	model := &DecisionTree{}
	if err := model.Train(features, labels, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	if confidence <= 0 {
		t.Fatalf("expected confidence > 0")
	}
	label, _, err = model.Predict([]float64{0.85, 0.95})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 2 {
		t.Fatalf("expected label 2, got %d", label)
	}
}

func TestDecisionTreeDeepSubtreesKeepChildPointers(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}}
	labels := []int{0, 1, 2, 3, 4, 5, 6, 7}

	model := &DecisionTree{}
	if err := model.Train(features, labels, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, row := range features {
		label, _, err := model.Predict(row)
		if err != nil {
			t.Fatalf("row %d: unexpected error: %v", i, err)
		}
		if label != labels[i] {
			t.Fatalf("row %d: expected label %d, got %d", i, labels[i], label)
		}
	}
	if err := validateNodes(model.Nodes(), 1); err != nil {
		t.Fatalf("trained tree failed validation: %v", err)
	}
}

func TestDecisionTreeRejectsWrongWidth(t *testing.T) {
	model := &DecisionTree{}
	if err := model.Train([][]float64{{0, 1}, {1, 0}}, []int{0, 1}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := model.Predict([]float64{0}); !errors.Is(err, ErrFeatureMismatch) {
		t.Fatalf("expected ErrFeatureMismatch, got %v", err)
	}
}

func TestDecisionTreePredictUntrained(t *testing.T) {
	model := &DecisionTree{}
	if _, _, err := model.Predict([]float64{1}); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
}

func TestDecisionTreeSaveLoad(t *testing.T) {
	model := &DecisionTree{}
	if err := model.Train([][]float64{{0, 0}, {0, 1}, {5, 5}, {6, 5}}, []int{1, 1, 3, 3}, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tree.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := &DecisionTree{}
	if err := loaded.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.NumFeatures() != 2 {
		t.Fatalf("expected 2 features, got %d", loaded.NumFeatures())
	}
	label, _, err := loaded.Predict([]float64{5.5, 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 3 {
		t.Fatalf("expected label 3, got %d", label)
	}
}

func TestNewDecisionTreeRejectsBrokenNodes(t *testing.T) {
	tests := []struct {
		name  string
		nodes []TreeNode
	}{
		{"empty", nil},
		{"feature out of range", []TreeNode{
			{FeatureIdx: 4, LeftChild: 1, RightChild: 2},
			{IsLeaf: true}, {IsLeaf: true},
		}},
		{"child points backwards", []TreeNode{
			{FeatureIdx: 0, LeftChild: 0, RightChild: 1},
			{IsLeaf: true},
		}},
		{"child past end", []TreeNode{
			{FeatureIdx: 0, LeftChild: 1, RightChild: 5},
			{IsLeaf: true},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDecisionTree(tt.nodes, 2); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
