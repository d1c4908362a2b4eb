package filter

import (
	"regexp"
	"strings"
)

// Default validation thresholds.
const (
	DefaultMinOverlap     = 0.5
	DefaultMaxLengthRatio = 1.3
)

// Rejection reasons reported by Validate.
const (
	ReasonEmpty      = "empty"
	ReasonLowOverlap = "low_overlap"
	ReasonTooLong    = "too_long"
)

// Thresholds configures Validate. Zero values use the defaults.
type Thresholds struct {
	MinOverlap     float64
	MaxLengthRatio float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinOverlap <= 0 {
		t.MinOverlap = DefaultMinOverlap
	}
	if t.MaxLengthRatio <= 0 {
		t.MaxLengthRatio = DefaultMaxLengthRatio
	}
	return t
}

// Verdict is the outcome of validating one cleanup.
type Verdict struct {
	OK          bool
	Reason      string // empty when OK
	Overlap     float64
	LengthRatio float64
}

// Validate decides whether output is a cleanup of input or something else
// (an answer, a refusal, a hallucination). The overlap ratio is the share of
// input content words present in the output. The output is rejected when
// that share is under t.MinOverlap or when it has more than
// t.MaxLengthRatio times the input's word count.
func Validate(input, output string, t Thresholds) Verdict {
	t = t.withDefaults()

	outWords := WordCount(output)
	if outWords == 0 {
		return Verdict{Reason: ReasonEmpty}
	}
	inWords := WordCount(input)

	v := Verdict{Overlap: Overlap(input, output)}
	if inWords > 0 {
		v.LengthRatio = float64(outWords) / float64(inWords)
	}

	switch {
	case v.Overlap < t.MinOverlap:
		v.Reason = ReasonLowOverlap
	case inWords > 0 && float64(outWords) > float64(inWords)*t.MaxLengthRatio:
		v.Reason = ReasonTooLong
	default:
		v.OK = true
	}
	return v
}

// Overlap returns the fraction of content words of input that also appear in
// output. An input with no content words has overlap 1.
func Overlap(input, output string) float64 {
	in := contentWords(input)
	if len(in) == 0 {
		return 1
	}
	out := contentWords(output)
	shared := 0
	for w := range in {
		if out[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(in))
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}']+`)

// StripEcho removes instruction text a model repeated in front of its
// answer. A marker only counts when it appears in output but not in input.
// The output is then cut to start at the first fragment of input found after
// the marker, trying three-word, two-word and single content-word fragments.
// Without a recognizable fragment everything up to the end of the marker is
// dropped.
func StripEcho(output, input string, markers []string) string {
	cut := -1
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(m))
		if re.MatchString(input) {
			continue
		}
		found := re.FindAllStringIndex(output, -1)
		if len(found) == 0 {
			continue
		}
		if end := found[len(found)-1][1]; end > cut {
			cut = end
		}
	}
	if cut < 0 {
		return output
	}

	rest := output[cut:]
	if pos := findFragment(rest, wordRE.FindAllString(input, -1)); pos >= 0 {
		return strings.TrimSpace(rest[pos:])
	}
	return strings.TrimSpace(strings.TrimLeft(rest, " \t\n:;-\"'"))
}

// findFragment returns the byte offset in text of the earliest run of
// consecutive input words, preferring longer runs.
func findFragment(text string, words []string) int {
	for size := 3; size >= 1; size-- {
		best := -1
		for i := 0; i+size <= len(words); i++ {
			window := words[i : i+size]
			if size == 1 && (stopWords[strings.ToLower(window[0])] || fillers[strings.ToLower(window[0])]) {
				continue
			}
			quoted := make([]string, len(window))
			for j, w := range window {
				quoted[j] = regexp.QuoteMeta(w)
			}
			re, err := regexp.Compile(`(?i)\b` + strings.Join(quoted, `\W+`) + `\b`)
			if err != nil {
				continue
			}
			if loc := re.FindStringIndex(text); loc != nil && (best < 0 || loc[0] < best) {
				best = loc[0]
			}
		}
		if best >= 0 {
			return best
		}
	}
	return -1
}
