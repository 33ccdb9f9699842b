package pipeline

import (
	"fmt"
	"strings"
)

// Feature is the canonical name of one measurement.
type Feature string

const (
	Nitrogen    Feature = "N"
	Phosphorus  Feature = "P"
	Potassium   Feature = "K"
	Temperature Feature = "temperature"
	Humidity    Feature = "humidity"
	PH          Feature = "ph"
	Rainfall    Feature = "rainfall"
)

// featureAliases accepts the column spellings seen in exported scalers.
var featureAliases = map[string]Feature{
	"n":           Nitrogen,
	"nitrogen":    Nitrogen,
	"p":           Phosphorus,
	"phosphorus":  Phosphorus,
	"phosphorous": Phosphorus,
	"k":           Potassium,
	"potassium":   Potassium,
	"temperature": Temperature,
	"temp":        Temperature,
	"humidity":    Humidity,
	"ph":          PH,
	"soil_ph":     PH,
	"rainfall":    Rainfall,
	"rain":        Rainfall,
}

// ParseFeature resolves a column name to its canonical feature.
func ParseFeature(name string) (Feature, error) {
	f, ok := featureAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown feature %q", name)
	}
	return f, nil
}

// FeatureContract is the ordered list of features the scaler and classifier
// were fit on.
type FeatureContract []Feature

// DefaultContract is the column order of the standard crop recommendation
// dataset.
func DefaultContract() FeatureContract {
	return FeatureContract{Nitrogen, Phosphorus, Potassium, Temperature, Humidity, PH, Rainfall}
}

// ParseContract resolves names into a contract, rejecting unknown and
// repeated features.
func ParseContract(names []string) (FeatureContract, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("feature contract is empty")
	}
	seen := make(map[Feature]bool, len(names))
	contract := make(FeatureContract, 0, len(names))
	for _, name := range names {
		f, err := ParseFeature(name)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			return nil, fmt.Errorf("feature %q listed twice", f)
		}
		seen[f] = true
		contract = append(contract, f)
	}
	return contract, nil
}

// Assemble orders the readings the way the contract says.
func (c FeatureContract) Assemble(r Readings) []float64 {
	vector := make([]float64, len(c))
	for i, f := range c {
		vector[i] = r.Value(f)
	}
	return vector
}

// Matches reports whether names (in any accepted spelling) are exactly this
// contract, in order.
func (c FeatureContract) Matches(names []string) error {
	if len(names) != len(c) {
		return fmt.Errorf("%d feature names for a %d-feature contract", len(names), len(c))
	}
	for i, name := range names {
		f, err := ParseFeature(name)
		if err != nil {
			return err
		}
		if f != c[i] {
			return fmt.Errorf("position %d is %q, contract expects %q", i, name, c[i])
		}
	}
	return nil
}

func (c FeatureContract) Strings() []string {
	out := make([]string, len(c))
	for i, f := range c {
		out[i] = string(f)
	}
	return out
}
