package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const (
	TypeDecisionTree = "decision_tree"
	TypeRandomForest = "random_forest"
)

var ErrUnsupportedModel = errors.New("unsupported model type")

type modelFile struct {
	Type      string       `json:"type"`
	NFeatures int          `json:"n_features"`
	Trees     [][]TreeNode `json:"trees"`
}

// LoadModel reads a classifier export. An empty modelType accepts whatever
// type the file declares; otherwise the two must agree.
func LoadModel(modelType, path string) (MLModel, error) {
	file, err := readModelFile(path)
	if err != nil {
		return nil, err
	}
	if modelType != "" && modelType != file.Type {
		return nil, fmt.Errorf("model file %s holds %q, configured %q", path, file.Type, modelType)
	}
	switch file.Type {
	case TypeDecisionTree:
		if len(file.Trees) != 1 {
			return nil, fmt.Errorf("decision tree file must hold exactly one tree, got %d", len(file.Trees))
		}
		return NewDecisionTree(file.Trees[0], file.NFeatures)
	case TypeRandomForest:
		return forestFromFile(file)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, file.Type)
	}
}

func readModelFile(path string) (modelFile, error) {
	var file modelFile
	payload, err := os.ReadFile(path)
	if err != nil {
		return file, err
	}
	if err := json.Unmarshal(payload, &file); err != nil {
		return file, fmt.Errorf("decode model %s: %w", path, err)
	}
	return file, nil
}

func writeModelFile(path string, file modelFile) error {
	payload, err := json.Marshal(file)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}
