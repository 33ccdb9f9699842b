package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"croprec/ml"
)

// ArtifactFiles locates the three exported artifacts.
type ArtifactFiles struct {
	Dir          string
	Model        string
	ModelType    string
	Scaler       string
	LabelEncoder string
}

func DefaultArtifactFiles() ArtifactFiles {
	return ArtifactFiles{
		Dir:          "saved_models",
		Model:        "crop_recommendation_model.json",
		Scaler:       "scaler.json",
		LabelEncoder: "label_encoder.json",
	}
}

func (f ArtifactFiles) path(name string) string {
	if filepath.IsAbs(name) || f.Dir == "" {
		return name
	}
	return filepath.Join(f.Dir, name)
}

// Artifacts is the immutable inference context: classifier, scaler and label
// encoder plus the feature contract they were checked against. It is safe to
// share between goroutines because nothing mutates it after construction.
type Artifacts struct {
	contract FeatureContract
	model    ml.Classifier
	scaler   *ml.StandardScaler
	encoder  *ml.LabelEncoder
	source   string
}

// LoadArtifacts reads the three files and validates them against contract.
// Every failure is an *ArtifactError.
func LoadArtifacts(files ArtifactFiles, contract FeatureContract) (*Artifacts, error) {
	modelPath := files.path(files.Model)
	model, err := ml.LoadModel(files.ModelType, modelPath)
	if err != nil {
		return nil, &ArtifactError{Artifact: "classifier", Path: modelPath, Err: err}
	}
	scalerPath := files.path(files.Scaler)
	scaler, err := ml.LoadScaler(scalerPath)
	if err != nil {
		return nil, &ArtifactError{Artifact: "scaler", Path: scalerPath, Err: err}
	}
	encoderPath := files.path(files.LabelEncoder)
	encoder, err := ml.LoadLabelEncoder(encoderPath)
	if err != nil {
		return nil, &ArtifactError{Artifact: "label encoder", Path: encoderPath, Err: err}
	}
	a, err := NewArtifacts(contract, model, scaler, encoder)
	if err != nil {
		return nil, err
	}
	a.source = files.Dir
	return a, nil
}

// NewArtifacts checks that the pieces agree with each other and with the
// contract. A nil contract is taken from the scaler's feature names, or the
// default order when it has none. A mismatch fails here, before any request
// is served.
func NewArtifacts(contract FeatureContract, model ml.Classifier, scaler *ml.StandardScaler, encoder *ml.LabelEncoder) (*Artifacts, error) {
	if model == nil {
		return nil, &ArtifactError{Artifact: "classifier", Err: errors.New("missing")}
	}
	if scaler == nil {
		return nil, &ArtifactError{Artifact: "scaler", Err: errors.New("missing")}
	}
	if encoder == nil || len(encoder.Classes) == 0 {
		return nil, &ArtifactError{Artifact: "label encoder", Err: errors.New("missing or empty")}
	}
	if err := scaler.Validate(); err != nil {
		return nil, &ArtifactError{Artifact: "scaler", Err: err}
	}
	// Without a declared contract the scaler's column names set the order.
	if len(contract) == 0 {
		if len(scaler.FeatureNames) == 0 {
			contract = DefaultContract()
		} else {
			named, err := ParseContract(scaler.FeatureNames)
			if err != nil {
				return nil, &ArtifactError{Artifact: "scaler", Err: fmt.Errorf("feature names: %w", err)}
			}
			contract = named
		}
	}
	if scaler.NumFeatures() != len(contract) {
		return nil, &ArtifactError{Artifact: "scaler", Err: fmt.Errorf(
			"scaler expects %d features, feature contract %v has %d", scaler.NumFeatures(), contract.Strings(), len(contract))}
	}
	if len(scaler.FeatureNames) > 0 {
		if err := contract.Matches(scaler.FeatureNames); err != nil {
			return nil, &ArtifactError{Artifact: "scaler", Err: fmt.Errorf("feature order: %w", err)}
		}
	}
	if model.NumFeatures() != scaler.NumFeatures() {
		return nil, &ArtifactError{Artifact: "classifier", Err: fmt.Errorf(
			"classifier expects %d features, scaler produces %d", model.NumFeatures(), scaler.NumFeatures())}
	}
	for _, id := range model.ClassIDs() {
		if id < 0 || id >= len(encoder.Classes) {
			return nil, &ArtifactError{Artifact: "label encoder", Err: fmt.Errorf(
				"classifier emits class %d, encoder knows %d classes", id, len(encoder.Classes))}
		}
	}
	return &Artifacts{
		contract: append(FeatureContract(nil), contract...),
		model:    model,
		scaler:   scaler,
		encoder:  encoder,
	}, nil
}

func (a *Artifacts) Contract() FeatureContract {
	return append(FeatureContract(nil), a.contract...)
}

// ExpectedFeatures is the scaler's input width.
func (a *Artifacts) ExpectedFeatures() int {
	return a.scaler.NumFeatures()
}

func (a *Artifacts) Classes() []string {
	return append([]string(nil), a.encoder.Classes...)
}

func (a *Artifacts) Source() string {
	return a.source
}
