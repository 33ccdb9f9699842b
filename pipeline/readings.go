package pipeline

import (
	"fmt"
	"math"
	"sort"
)

// Readings are the seven raw soil and climate measurements of one sample.
type Readings struct {
	Nitrogen    float64 `json:"nitrogen"`
	Phosphorus  float64 `json:"phosphorus"`
	Potassium   float64 `json:"potassium"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

func (r Readings) Value(f Feature) float64 {
	switch f {
	case Nitrogen:
		return r.Nitrogen
	case Phosphorus:
		return r.Phosphorus
	case Potassium:
		return r.Potassium
	case Temperature:
		return r.Temperature
	case Humidity:
		return r.Humidity
	case PH:
		return r.PH
	case Rainfall:
		return r.Rainfall
	}
	return math.NaN()
}

func (r *Readings) Set(f Feature, v float64) error {
	switch f {
	case Nitrogen:
		r.Nitrogen = v
	case Phosphorus:
		r.Phosphorus = v
	case Potassium:
		r.Potassium = v
	case Temperature:
		r.Temperature = v
	case Humidity:
		r.Humidity = v
	case PH:
		r.PH = v
	case Rainfall:
		r.Rainfall = v
	default:
		return fmt.Errorf("unknown feature %q", f)
	}
	return nil
}

// FieldSpec describes one form input.
type FieldSpec struct {
	Feature Feature `json:"feature"`
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Group   string  `json:"group"`
	Unit    string  `json:"unit,omitempty"`
	Help    string  `json:"help,omitempty"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Step    float64 `json:"step"`
}

// DefaultFields is the form layout: soil nutrients first, then climate.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Feature: Nitrogen, Name: "nitrogen", Label: "Nitrogen (N)", Group: "soil", Unit: "kg/ha", Help: "Ratio of Nitrogen content in soil (kg/ha)", Min: 0, Max: 140, Default: 50, Step: 1},
		{Feature: Phosphorus, Name: "phosphorus", Label: "Phosphorus (P)", Group: "soil", Unit: "kg/ha", Help: "Ratio of Phosphorus content in soil (kg/ha)", Min: 0, Max: 145, Default: 50, Step: 1},
		{Feature: Potassium, Name: "potassium", Label: "Potassium (K)", Group: "soil", Unit: "kg/ha", Help: "Ratio of Potassium content in soil (kg/ha)", Min: 0, Max: 205, Default: 50, Step: 1},
		{Feature: PH, Name: "ph", Label: "Soil pH", Group: "soil", Help: "0 (Acidic) to 14 (Alkaline)", Min: 0, Max: 14, Default: 6.5, Step: 0.1},
		{Feature: Temperature, Name: "temperature", Label: "Temperature (°C)", Group: "climate", Unit: "°C", Min: 0, Max: 60, Default: 25, Step: 0.1},
		{Feature: Humidity, Name: "humidity", Label: "Humidity (%)", Group: "climate", Unit: "%", Min: 0, Max: 100, Default: 70, Step: 0.1},
		{Feature: Rainfall, Name: "rainfall", Label: "Rainfall (mm)", Group: "climate", Unit: "mm", Min: 0, Max: 500, Default: 100, Step: 0.1},
	}
}

// DefaultReadings fills every field with its form default.
func DefaultReadings(fields []FieldSpec) Readings {
	var r Readings
	for _, f := range fields {
		_ = r.Set(f.Feature, f.Default)
	}
	return r
}

// FieldError names one reading that failed validation.
type FieldError struct {
	Field   string  `json:"field"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// Validate checks every reading against its field's inclusive range.
func Validate(r Readings, fields []FieldSpec) error {
	var problems []FieldError
	for _, f := range fields {
		v := r.Value(f.Feature)
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			problems = append(problems, FieldError{Field: f.Name, Message: "must be a finite number"})
		case v < f.Min || v > f.Max:
			problems = append(problems, FieldError{
				Field:   f.Name,
				Value:   v,
				Message: fmt.Sprintf("must be between %g and %g", f.Min, f.Max),
			})
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

// ReadingsFromValues builds readings from loosely named values, such as a
// sensor payload. Keys may use any feature alias. Every field must be
// present and no key may be unknown.
func ReadingsFromValues(values map[string]float64, fields []FieldSpec) (Readings, error) {
	var r Readings
	var problems []FieldError
	seen := make(map[Feature]bool, len(values))
	for key, v := range values {
		f, err := ParseFeature(key)
		if err != nil {
			problems = append(problems, FieldError{Field: key, Message: "is not a known reading"})
			continue
		}
		seen[f] = true
		_ = r.Set(f, v)
	}
	for _, f := range fields {
		if !seen[f.Feature] {
			problems = append(problems, FieldError{Field: f.Name, Message: "is required"})
		}
	}
	if len(problems) > 0 {
		sort.Slice(problems, func(i, j int) bool { return problems[i].Field < problems[j].Field })
		return Readings{}, &ValidationError{Fields: problems}
	}
	return r, nil
}
