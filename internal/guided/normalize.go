package guided

import (
	"regexp"
	"strings"

	"github.com/MrWong99/voxtable/pkg/pipeline"
)

// numberPattern matches the first signed decimal in an utterance.
var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Normalize turns a recognised utterance into the value written for a step.
// Number steps map decimal commas to periods and take the first signed
// decimal; when there is none the comma-mapped text is returned as a whole.
// Text steps get the trimmed text.
func Normalize(text string, expected pipeline.ExpectedType) string {
	trimmed := strings.TrimSpace(text)
	if expected != pipeline.ExpectNumber {
		return trimmed
	}
	normalized := strings.ReplaceAll(trimmed, ",", ".")
	if m := numberPattern.FindString(normalized); m != "" {
		return m
	}
	return normalized
}
