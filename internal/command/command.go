// Package command recognises spoken editing commands such as
// "make this more formal" or "write an email saying ...".
package command

import (
	"regexp"
	"strings"
)

// Kind tells whether a command edits existing text or produces new text.
type Kind int

const (
	// Rewrite transforms the currently selected text.
	Rewrite Kind = iota
	// Generate produces new text from the instruction alone.
	Generate
)

func (k Kind) String() string {
	if k == Generate {
		return "generate"
	}
	return "rewrite"
}

// Command is a classified spoken command.
type Command struct {
	Kind        Kind
	Instruction string // the spoken instruction, cleaned of trailing punctuation
}

// NeedsSelection reports whether the command operates on selected text.
func (c Command) NeedsSelection() bool { return c.Kind == Rewrite }

type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// Patterns are anchored at the start of the utterance so that dictating a
// sentence that merely contains "rewrite this" is not a command.
var patterns = []pattern{
	{Rewrite, regexp.MustCompile(`^(?:please )?rewrite (?:this|it|that)\b`)},
	{Rewrite, regexp.MustCompile(`^(?:please )?make (?:this|it|that) (?:more |less |a bit |sound )?\w+`)},
	{Rewrite, regexp.MustCompile(`^(?:please )?translate (?:this|it|that) (?:to|into) \w+`)},
	{Rewrite, regexp.MustCompile(`^(?:please )?fix (?:the )?(?:grammar|spelling|typos)\b`)},
	{Rewrite, regexp.MustCompile(`^(?:please )?(?:summarize|summarise|shorten|expand) (?:this|it|that)\b`)},
	{Generate, regexp.MustCompile(`^(?:please )?write (?:a|an|me|me a|me an) \w+`)},
	{Generate, regexp.MustCompile(`^(?:please )?draft (?:a|an) \w+`)},
	{Generate, regexp.MustCompile(`^(?:please )?reply (?:saying|with|that)\b`)},
}

var leadingPunct = regexp.MustCompile(`^[^\p{L}\p{N}]+`)

// Classify returns the command spoken in transcript, if any.
func Classify(transcript string) (Command, bool) {
	norm := strings.ToLower(strings.TrimSpace(transcript))
	norm = leadingPunct.ReplaceAllString(norm, "")
	norm = strings.Join(strings.Fields(strings.NewReplacer(",", "", ".", "", "!", "", "?", "").Replace(norm)), " ")
	if norm == "" {
		return Command{}, false
	}
	for _, p := range patterns {
		if p.re.MatchString(norm) {
			return Command{
				Kind:        p.kind,
				Instruction: strings.TrimRight(strings.TrimSpace(transcript), ".!? "),
			}, true
		}
	}
	return Command{}, false
}
