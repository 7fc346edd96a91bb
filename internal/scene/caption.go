package scene

import (
	"math"
	"strings"
)

// glyphWidthRatio approximates the average advance of a proportional font.
const glyphWidthRatio = 0.55

// WrapCaption breaks text into lines that fit maxWidth pixels at fontSize.
// Explicit line breaks are kept; single words longer than a line stay whole.
func WrapCaption(text string, fontSize, maxWidth int) []string {
	perLine := int(math.Floor(float64(maxWidth) / (glyphWidthRatio * float64(fontSize))))
	if perLine < 1 {
		perLine = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		current := words[0]
		for _, w := range words[1:] {
			if len([]rune(current))+1+len([]rune(w)) > perLine {
				lines = append(lines, current)
				current = w
				continue
			}
			current += " " + w
		}
		lines = append(lines, current)
	}
	return lines
}

func fadeWindow(want, duration float64) float64 {
	if want <= 0 {
		return 0
	}
	return math.Min(want, duration/2)
}
