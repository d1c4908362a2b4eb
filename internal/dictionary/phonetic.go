package dictionary

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// phoneticThreshold is the Jaro-Winkler score a window needs when its
	// Double Metaphone code matches a term.
	phoneticThreshold = 0.85
	// minWindowLen skips short windows; they match too much.
	minWindowLen = 4
)

type term struct {
	canonical string
	lower     string // lowercase, spaces removed
	words     int
	codes     [2]string
}

type vocabulary struct {
	terms    []term
	maxWords int
}

func newVocabulary(words []string) *vocabulary {
	v := &vocabulary{}
	for _, w := range words {
		fields := strings.Fields(w)
		if len(fields) == 0 {
			continue
		}
		lower := strings.ToLower(strings.Join(fields, ""))
		p, s := matchr.DoubleMetaphone(lower)
		v.terms = append(v.terms, term{
			canonical: strings.Join(fields, " "),
			lower:     lower,
			words:     len(fields),
			codes:     [2]string{p, s},
		})
		if len(fields) > v.maxWords {
			v.maxWords = len(fields)
		}
	}
	return v
}

// apply walks the tokens of text and replaces the longest window of up to
// maxWords tokens that sounds like a vocabulary term. Punctuation around a
// replaced window is kept.
func (v *vocabulary) apply(text string) string {
	if len(v.terms) == 0 {
		return text
	}
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))

	for i := 0; i < len(tokens); {
		consumed := 0
		for n := min(v.maxWords+1, len(tokens)-i); n >= 1; n-- {
			window := tokens[i : i+n]
			if canonical, ok := v.match(window); ok {
				lead := leadingPunct(window[0])
				trail := trailingPunct(window[n-1])
				out = append(out, lead+canonical+trail)
				consumed = n
				break
			}
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	return strings.Join(out, " ")
}

// match reports the term that window sounds like. A window may be one word
// longer than the term, since recognizers often split unfamiliar words.
func (v *vocabulary) match(window []string) (string, bool) {
	var parts []string
	for _, w := range window {
		core := strings.ToLower(strings.TrimFunc(w, isPunct))
		if core == "" {
			return "", false
		}
		parts = append(parts, core)
	}
	joined := strings.Join(parts, "")
	if len([]rune(joined)) < minWindowLen {
		return "", false
	}
	if len(window) == 1 && commonWords[joined] {
		return "", false
	}

	p, s := matchr.DoubleMetaphone(joined)
	best, bestScore := "", 0.0
	for _, t := range v.terms {
		if len(window) > t.words+1 || len(window) < t.words {
			continue
		}
		if joined == t.lower {
			return t.canonical, true
		}
		if !codesMatch(p, s, t.codes) {
			continue
		}
		if score := matchr.JaroWinkler(joined, t.lower, false); score >= phoneticThreshold && score > bestScore {
			best, bestScore = t.canonical, score
		}
	}
	return best, best != ""
}

func codesMatch(p, s string, codes [2]string) bool {
	for _, a := range [2]string{p, s} {
		if a == "" {
			continue
		}
		if a == codes[0] || a == codes[1] {
			return true
		}
	}
	return false
}

func isPunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func leadingPunct(s string) string {
	core := strings.TrimLeftFunc(s, isPunct)
	return s[:len(s)-len(core)]
}

func trailingPunct(s string) string {
	core := strings.TrimRightFunc(s, isPunct)
	return s[len(core):]
}

// commonWords are never snapped to a vocabulary term on their own.
var commonWords = map[string]bool{
	"that": true, "this": true, "there": true, "their": true, "they": true,
	"what": true, "when": true, "with": true, "have": true, "from": true,
	"would": true, "could": true, "should": true, "about": true, "these": true,
	"those": true, "then": true, "than": true, "were": true, "will": true,
	"your": true, "just": true, "like": true, "know": true, "think": true,
}
