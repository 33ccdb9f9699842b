package pipeline

// Warning is a non-fatal note about unusual but accepted readings.
type Warning struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SanityRule inspects readings that already passed range validation.
type SanityRule interface {
	Name() string
	Check(r Readings) (Warning, bool)
}

type thresholdRule struct {
	name    string
	message string
	trigger func(Readings) bool
}

func (t thresholdRule) Name() string { return t.name }

func (t thresholdRule) Check(r Readings) (Warning, bool) {
	if !t.trigger(r) {
		return Warning{}, false
	}
	return Warning{Type: t.name, Message: t.message}, true
}

func NewPHRangeRule() SanityRule {
	return thresholdRule{
		name:    "ph_extreme",
		message: "Your Soil pH is extremely acidic/alkaline. Most crops prefer pH 5.5-7.5.",
		trigger: func(r Readings) bool { return r.PH < 4.0 || r.PH > 9.0 },
	}
}

func NewHeatRule() SanityRule {
	return thresholdRule{
		name:    "temperature_extreme",
		message: "Temperature is extremely high (>45°C). Ensure crops are heat-tolerant.",
		trigger: func(r Readings) bool { return r.Temperature > 45 },
	}
}

func NewDryAirRule() SanityRule {
	return thresholdRule{
		name:    "humidity_low",
		message: "Humidity is extremely low (<10%). Intensive irrigation required.",
		trigger: func(r Readings) bool { return r.Humidity < 10 },
	}
}

func DefaultSanityRules() []SanityRule {
	return []SanityRule{NewPHRangeRule(), NewHeatRule(), NewDryAirRule()}
}

// CheckSanity runs every rule in order and collects the warnings raised.
func CheckSanity(r Readings, rules []SanityRule) []Warning {
	var warnings []Warning
	for _, rule := range rules {
		if w, ok := rule.Check(r); ok {
			warnings = append(warnings, w)
		}
	}
	return warnings
}
