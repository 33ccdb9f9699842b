// Package crop holds the static knowledge shown next to a prediction:
// advisory notes, crop images and display formatting.
package crop

import "strings"

// Advice categories.
const (
	CategoryWater   = "water"
	CategoryDrought = "drought"
	CategoryNote    = "note"
)

// Advice is a short advisory shown under the recommendation.
type Advice struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

var (
	waterAdvice   = Advice{Category: CategoryWater, Message: "This crop requires high water availability."}
	droughtAdvice = Advice{Category: CategoryDrought, Message: "This crop is drought-resistant."}
)

var advice = map[string]Advice{
	"rice":    waterAdvice,
	"jute":    waterAdvice,
	"papaya":  waterAdvice,
	"coconut": waterAdvice,
	"coffee":  waterAdvice,

	"chickpea":    droughtAdvice,
	"mothbeans":   droughtAdvice,
	"kidneybeans": droughtAdvice,
	"blackgram":   droughtAdvice,
	"lentil":      droughtAdvice,

	"cotton": {Category: CategoryNote, Message: "Cotton requires long frost-free periods and sunshine."},
	"banana": {Category: CategoryNote, Message: "Banana needs high humidity and moisture."},
	"maize":  {Category: CategoryNote, Message: "Maize grows best in well-drained fertile soil."},
}

// Known lists the 22 crops of the standard crop recommendation dataset.
var Known = []string{
	"rice", "maize", "chickpea", "kidneybeans", "pigeonpeas", "mothbeans",
	"mungbean", "blackgram", "lentil", "pomegranate", "banana", "mango",
	"grapes", "watermelon", "muskmelon", "apple", "orange", "papaya",
	"coconut", "cotton", "jute", "coffee",
}

// Normalize is the lookup key for a crop name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AdviceFor returns the advisory for a crop, if there is one.
func AdviceFor(name string) (Advice, bool) {
	a, ok := advice[Normalize(name)]
	return a, ok
}

// ImageFile is the file name a crop's picture is stored under.
func ImageFile(name string) string {
	return Normalize(name) + ".jpg"
}
