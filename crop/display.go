package crop

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Casers keep state between calls, so each call builds its own.

// Headline is the success message shown for a prediction.
func Headline(name string) string {
	return "Recommended Crop: " + cases.Upper(language.English).String(Normalize(name))
}

// Caption is the crop name as shown under its image.
func Caption(name string) string {
	return cases.Title(language.English).String(Normalize(name))
}
