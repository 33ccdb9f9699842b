package ml

// Classifier maps a scaled feature vector to a class id and a confidence in [0, 1].
type Classifier interface {
	Predict(features []float64) (int, float64, error)
	// NumFeatures is the vector width the classifier was fit on.
	NumFeatures() int
	// ClassIDs lists every class id the classifier can emit, ascending.
	ClassIDs() []int
}

// MLModel is a Classifier that can be persisted in the JSON model format.
type MLModel interface {
	Classifier
	Save(path string) error
	Load(path string) error
}
