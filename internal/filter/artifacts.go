// Package filter holds the pure text routines of the pipeline: recognizer
// artifact and meta stripping, language-model echo stripping, cleanup
// validation, filler detection and mechanical capitalization.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// DefaultMaxArtifactLen is the longest bracketed span, in characters
// between the brackets, that is treated as a recognizer tag.
const DefaultMaxArtifactLen = 30

var (
	ellipsisRE = regexp.MustCompile(`(\w)(?:\.\.\.|…)`)
	spaceRE    = regexp.MustCompile(`[ \t]{2,}`)
	preSpaceRE = regexp.MustCompile(`\s+([,.;:!?])`)

	tagMu  sync.Mutex
	tagREs = map[int]*regexp.Regexp{}
)

func tagPattern(maxLen int) *regexp.Regexp {
	if maxLen <= 0 {
		maxLen = DefaultMaxArtifactLen
	}
	tagMu.Lock()
	defer tagMu.Unlock()
	re, ok := tagREs[maxLen]
	if !ok {
		re = regexp.MustCompile(fmt.Sprintf(`\[[^\[\]]{1,%d}\]|\([^()]{1,%d}\)`, maxLen, maxLen))
		tagREs[maxLen] = re
	}
	return re
}

// StripArtifacts removes bracketed non-speech tags such as "[BLANK_AUDIO]"
// or "(music)" whose content is at most maxLen characters, turns "word..."
// into "word" and collapses the whitespace left behind.
func StripArtifacts(text string, maxLen int) string {
	text = tagPattern(maxLen).ReplaceAllString(text, " ")
	text = ellipsisRE.ReplaceAllString(text, "$1")
	return tidy(text)
}

// Phrases whisper is known to produce on silence or music, learned from
// subtitle training data.
var metaPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:subtitles? )?(?:(?:provided )?by )?(?:the )?amara\.org community[.!]*`),
	regexp.MustCompile(`(?i)\bthanks? (?:you )?for watching[.!]*`),
	regexp.MustCompile(`(?i)\bplease (?:like and )?subscribe(?: to (?:my|our|the) channel)?[.!]*`),
	regexp.MustCompile(`(?i)\bsubtitles? (?:by|provided by) [^.!?]*[.!?]*`),
	regexp.MustCompile(`(?i)\btranscri(?:bed|ption) by [^.!?]*[.!?]*`),
	regexp.MustCompile(`(?i)\bsee you in the next video[.!]*`),
	regexp.MustCompile(`(?i)♪+`),
}

// StripMeta removes commentary the recognizer emitted that was never spoken.
func StripMeta(text string) string {
	for _, re := range metaPhrases {
		text = re.ReplaceAllString(text, " ")
	}
	return tidy(text)
}

func tidy(text string) string {
	text = spaceRE.ReplaceAllString(text, " ")
	text = preSpaceRE.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
