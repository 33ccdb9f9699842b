package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrArtifactLoad marks failures to load or validate the model artifacts.
	// The inference path stays disabled until the process restarts.
	ErrArtifactLoad = errors.New("artifact load failed")
	// ErrPrediction marks a failure scoped to a single request.
	ErrPrediction = errors.New("prediction failed")
)

// ArtifactError reports which artifact could not be loaded.
type ArtifactError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ArtifactError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("load %s from %s: %v", e.Artifact, e.Path, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Artifact, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

func (e *ArtifactError) Is(target error) bool { return target == ErrArtifactLoad }

// PredictionError reports the pipeline stage that failed.
type PredictionError struct {
	Stage string
	Err   error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed at %s: %v", e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

func (e *PredictionError) Is(target error) bool { return target == ErrPrediction }

// ValidationError lists readings outside their declared range. It counts as
// a prediction failure for the request that carried them.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return "invalid readings: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrPrediction }
