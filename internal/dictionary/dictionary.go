// Package dictionary applies the user's personal vocabulary to transcripts:
// literal corrections, phonetic matching of known terms, and snippet
// expansion.
package dictionary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Correction replaces any of From with To. When Apps is set the correction
// only applies while dictating into one of those applications.
type Correction struct {
	From []string `yaml:"from"`
	To   string   `yaml:"to"`
	Apps []string `yaml:"apps,omitempty"`
}

// Snippet expands a spoken trigger phrase into stored text.
type Snippet struct {
	Trigger   string `yaml:"trigger"`
	Expansion string `yaml:"expansion"`
}

// File is the on-disk layout of the dictionary.
type File struct {
	Corrections []Correction `yaml:"corrections"`
	Vocabulary  []string     `yaml:"vocabulary"`
	Snippets    []Snippet    `yaml:"snippets"`
}

type compiledCorrection struct {
	re   *regexp.Regexp
	to   string
	apps map[string]bool
}

// Dictionary is safe for concurrent use. Reload swaps the contents
// atomically with respect to readers.
type Dictionary struct {
	path string

	mu          sync.RWMutex
	corrections []compiledCorrection
	vocab       *vocabulary
	snippets    map[string]string
}

// New builds a dictionary from in-memory contents.
func New(f File) (*Dictionary, error) {
	d := &Dictionary{}
	if err := d.set(f); err != nil {
		return nil, err
	}
	return d, nil
}

// Open loads the dictionary at path. A missing file yields an empty
// dictionary that picks the file up on the next Reload.
func Open(path string) (*Dictionary, error) {
	d := &Dictionary{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the dictionary file. On error the previous contents stay
// in place.
func (d *Dictionary) Reload() error {
	if d.path == "" {
		return nil
	}
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return d.set(File{})
	}
	if err != nil {
		return fmt.Errorf("dictionary: read %s: %w", d.path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("dictionary: parse %s: %w", d.path, err)
	}
	return d.set(f)
}

func (d *Dictionary) set(f File) error {
	var corrections []compiledCorrection
	for _, c := range f.Corrections {
		if c.To == "" || len(c.From) == 0 {
			continue
		}
		var alts []string
		for _, from := range c.From {
			words := strings.Fields(from)
			if len(words) == 0 {
				continue
			}
			for i, w := range words {
				words[i] = regexp.QuoteMeta(w)
			}
			alts = append(alts, strings.Join(words, `\s+`))
		}
		if len(alts) == 0 {
			continue
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
		if err != nil {
			return fmt.Errorf("dictionary: correction %q: %w", c.To, err)
		}
		cc := compiledCorrection{re: re, to: c.To}
		if len(c.Apps) > 0 {
			cc.apps = make(map[string]bool, len(c.Apps))
			for _, a := range c.Apps {
				cc.apps[strings.ToLower(a)] = true
			}
		}
		corrections = append(corrections, cc)
	}

	snippets := make(map[string]string, len(f.Snippets))
	for _, s := range f.Snippets {
		if key := normalize(s.Trigger); key != "" {
			snippets[key] = s.Expansion
		}
	}

	vocab := newVocabulary(f.Vocabulary)

	d.mu.Lock()
	d.corrections = corrections
	d.vocab = vocab
	d.snippets = snippets
	d.mu.Unlock()
	return nil
}

// ApplyCorrections rewrites text with the literal corrections that apply to
// appName, then snaps near-miss spellings of vocabulary terms to their
// canonical form.
func (d *Dictionary) ApplyCorrections(text, appName string) string {
	d.mu.RLock()
	corrections, vocab := d.corrections, d.vocab
	d.mu.RUnlock()

	app := strings.ToLower(appName)
	for _, c := range corrections {
		if c.apps != nil && !c.apps[app] {
			continue
		}
		text = c.re.ReplaceAllLiteralString(text, c.to)
	}
	if vocab != nil {
		text = vocab.apply(text)
	}
	return text
}

// MatchSnippet returns the expansion whose trigger is the whole of text,
// ignoring case and punctuation.
func (d *Dictionary) MatchSnippet(text string) (string, bool) {
	key := normalize(text)
	if key == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	exp, ok := d.snippets[key]
	return exp, ok
}

// normalize lowercases s, drops punctuation and collapses whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\'':
			return -1
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case strings.ContainsRune(".,!?;:\"", r):
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
