// Package testutil builds small but real model artifacts for tests.
package testutil

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"path/filepath"
	"strconv"
	"testing"

	"croprec/ml"
	"croprec/pipeline"
)

//go:embed testdata/crop_sample.csv
var cropSample []byte

// RiceReadings is the first row of the public crop recommendation dataset,
// rounded the way it is usually quoted.
var RiceReadings = pipeline.Readings{
	Nitrogen:    90,
	Phosphorus:  42,
	Potassium:   43,
	Temperature: 20.8,
	Humidity:    82,
	PH:          6.5,
	Rainfall:    202.9,
}

// Dataset returns the sample rows in N, P, K, temperature, humidity, ph,
// rainfall order together with their crop labels.
func Dataset(t testing.TB) ([][]float64, []string) {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(cropSample)).ReadAll()
	if err != nil {
		t.Fatalf("read sample csv: %v", err)
	}
	rows := make([][]float64, 0, len(records)-1)
	labels := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]float64, 7)
		for i := 0; i < 7; i++ {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				t.Fatalf("parse %q: %v", rec[i], err)
			}
			row[i] = v
		}
		rows = append(rows, row)
		labels = append(labels, rec[7])
	}
	return rows, labels
}

// Fit trains a decision tree on the sample data and returns the three
// artifacts in memory.
func Fit(t testing.TB) (*ml.DecisionTree, *ml.StandardScaler, *ml.LabelEncoder) {
	t.Helper()
	rows, labels := Dataset(t)
	scaler, err := ml.FitStandardScaler(pipeline.DefaultContract().Strings(), rows)
	if err != nil {
		t.Fatalf("fit scaler: %v", err)
	}
	encoder, ids := ml.FitLabelEncoder(labels)
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		if scaled[i], err = scaler.Transform(row); err != nil {
			t.Fatalf("scale row %d: %v", i, err)
		}
	}
	tree := &ml.DecisionTree{}
	if err := tree.Train(scaled, ids, 64); err != nil {
		t.Fatalf("train tree: %v", err)
	}
	return tree, scaler, encoder
}

// Artifacts fits the sample model and wraps it in a validated context.
func Artifacts(t testing.TB) *pipeline.Artifacts {
	t.Helper()
	tree, scaler, encoder := Fit(t)
	a, err := pipeline.NewArtifacts(pipeline.DefaultContract(), tree, scaler, encoder)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	return a
}

// WriteArtifacts saves the sample artifacts under dir using the default
// file names.
func WriteArtifacts(t testing.TB, dir string) pipeline.ArtifactFiles {
	t.Helper()
	tree, scaler, encoder := Fit(t)
	files := pipeline.DefaultArtifactFiles()
	files.Dir = dir
	if err := tree.Save(filepath.Join(dir, files.Model)); err != nil {
		t.Fatalf("save model: %v", err)
	}
	if err := scaler.Save(filepath.Join(dir, files.Scaler)); err != nil {
		t.Fatalf("save scaler: %v", err)
	}
	if err := encoder.Save(filepath.Join(dir, files.LabelEncoder)); err != nil {
		t.Fatalf("save encoder: %v", err)
	}
	return files
}
