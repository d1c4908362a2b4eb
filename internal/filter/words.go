package filter

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into words. Punctuation is dropped
// except apostrophes inside a word ("don't").
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	words := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			words = append(words, f)
		}
	}
	return words
}

// WordCount returns the number of whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

var fillers = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true, "uhm": true,
	"er": true, "erm": true, "ah": true, "hmm": true, "mhm": true,
}

var fillerPhrases = [][2]string{
	{"you", "know"},
	{"i", "mean"},
}

// IsFiller reports whether a single lowercase token is a filler sound.
func IsFiller(word string) bool {
	return fillers[word]
}

// HasFiller reports whether text contains a filler sound or a filler phrase.
func HasFiller(text string) bool {
	words := Tokenize(text)
	for i, w := range words {
		if fillers[w] {
			return true
		}
		if i+1 < len(words) {
			for _, p := range fillerPhrases {
				if w == p[0] && words[i+1] == p[1] {
					return true
				}
			}
		}
	}
	return false
}

var pronounIRE = regexp.MustCompile(`\bi\b`)

// Capitalize upper-cases the first letter of every sentence and the pronoun
// "I". Nothing else is changed.
func Capitalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	runes := []rune(text)
	capNext, ended := true, false
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if capNext {
				runes[i] = unicode.ToUpper(r)
			}
			capNext, ended = false, false
		case unicode.IsDigit(r):
			capNext, ended = false, false
		case r == '.' || r == '!' || r == '?':
			ended = true
		case unicode.IsSpace(r):
			if ended {
				capNext = true
			}
		}
	}
	return pronounIRE.ReplaceAllString(string(runes), "I")
}

// stopWords are dropped before overlap scoring. They carry no content, so
// a model reply can share all of them with the input and still be off-topic.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"so": true, "if": true, "then": true, "than": true, "of": true, "to": true,
	"in": true, "on": true, "at": true, "by": true, "for": true, "with": true,
	"from": true, "as": true, "into": true, "about": true, "up": true, "out": true,
	"is": true, "am": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "will": true, "would": true,
	"can": true, "could": true, "should": true, "shall": true, "may": true,
	"might": true, "must": true, "i": true, "me": true, "my": true, "we": true,
	"us": true, "our": true, "you": true, "your": true, "he": true, "him": true,
	"his": true, "she": true, "her": true, "it": true, "its": true, "they": true,
	"them": true, "their": true, "this": true, "that": true, "these": true,
	"those": true, "there": true, "here": true, "what": true, "which": true,
	"who": true, "just": true, "like": true, "very": true, "really": true,
	"i'm": true, "it's": true, "that's": true, "let's": true, "not": true,
	"no": true, "yes": true, "okay": true, "ok": true, "well": true, "all": true,
}

// contentWords returns the set of tokens of text that are neither stop
// words nor fillers.
func contentWords(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range Tokenize(text) {
		if stopWords[w] || fillers[w] {
			continue
		}
		set[w] = true
	}
	return set
}
