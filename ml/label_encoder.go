package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

var ErrUnknownClass = errors.New("unknown class")

// LabelEncoder maps class ids to names. Classes[i] is the name of id i,
// sorted the way the fitting side sorts them.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

// FitLabelEncoder sorts the distinct labels and returns the encoder together
// with the encoded ids of labels.
func FitLabelEncoder(labels []string) (*LabelEncoder, []int) {
	seen := make(map[string]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for l := range seen {
		classes = append(classes, l)
	}
	sort.Strings(classes)
	enc := &LabelEncoder{Classes: classes}
	ids := make([]int, len(labels))
	for i, l := range labels {
		ids[i] = sort.SearchStrings(classes, l)
	}
	return enc, ids
}

func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var enc LabelEncoder
	if err := json.Unmarshal(payload, &enc); err != nil {
		return nil, fmt.Errorf("decode label encoder %s: %w", path, err)
	}
	if len(enc.Classes) == 0 {
		return nil, fmt.Errorf("label encoder %s has no classes", path)
	}
	return &enc, nil
}

func (e *LabelEncoder) Save(path string) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (e *LabelEncoder) InverseTransform(id int) (string, error) {
	if id < 0 || id >= len(e.Classes) {
		return "", fmt.Errorf("%w: id %d outside [0, %d)", ErrUnknownClass, id, len(e.Classes))
	}
	return e.Classes[id], nil
}
