package prompt

import (
	"regexp"
	"strings"

	"github.com/chaz8081/voxpipe/internal/filter"
)

var (
	fillerRE   = regexp.MustCompile(`(?i)(^|[\s,])(?:um+|uh+|uhm|erm?|hmm+|mhm)\b[,.]?`)
	preSpaceRE = regexp.MustCompile(`\s+([,.;:!?])`)
	doubleRE   = regexp.MustCompile(`([,;:])[,;:]+`)
)

// Formatter is the last text pass before delivery: a filler safety net plus
// spacing fixes.
type Formatter struct {
	TrailingSpace bool
}

// Format removes leftover filler sounds, fixes spacing around punctuation
// and applies the trailing space setting.
func (f Formatter) Format(text string) string {
	out := fillerRE.ReplaceAllString(text, "$1")
	out = doubleRE.ReplaceAllString(out, "$1")
	out = preSpaceRE.ReplaceAllString(out, "$1")
	out = strings.Join(strings.Fields(out), " ")
	out = strings.TrimLeft(out, ",;: ")
	if out != strings.TrimSpace(text) {
		out = filter.Capitalize(out)
	}
	if out != "" && f.TrailingSpace {
		out += " "
	}
	return out
}
