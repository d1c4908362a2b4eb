// Package appctx detects the destination of a dictation: which application
// is frontmost, what kind of application it is, and what text is selected
// in it.
package appctx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/voxpipe/internal/desktop"
)

// Categories of destination applications.
const (
	CategoryMail     = "mail"
	CategoryChat     = "chat"
	CategoryCode     = "code"
	CategoryDocument = "document"
	CategoryBrowser  = "browser"
	CategoryTerminal = "terminal"
	CategoryOther    = "other"
)

// Snapshot is the destination context captured when recording starts.
type Snapshot struct {
	App      desktop.App
	Category string
	Style    string
}

type rule struct {
	category string
	needles  []string
}

// Rules are checked in order against the lowercase process name. Terminal
// comes first so that names like "terminal-code" are not taken for editors.
var nameRules = []rule{
	{CategoryTerminal, []string{"terminal", "iterm", "alacritty", "kitty", "wezterm", "ghostty", "konsole", "warp"}},
	{CategoryMail, []string{"mail", "outlook", "thunderbird", "spark", "superhuman"}},
	{CategoryChat, []string{"slack", "discord", "teams", "telegram", "messages", "whatsapp", "signal", "element"}},
	{CategoryCode, []string{"code", "xcode", "goland", "intellij", "idea", "pycharm", "vim", "emacs", "zed", "sublime", "cursor"}},
	{CategoryDocument, []string{"word", "pages", "notion", "obsidian", "textedit", "libreoffice", "bear", "notes"}},
	{CategoryBrowser, []string{"chrome", "chromium", "safari", "firefox", "arc", "edge", "brave", "vivaldi"}},
}

// Browser tabs are classified by window title.
var titleRules = []rule{
	{CategoryMail, []string{"gmail", "outlook", "proton mail", "fastmail"}},
	{CategoryChat, []string{"slack", "discord", "whatsapp", "messenger", "teams"}},
	{CategoryDocument, []string{"google docs", "notion", "confluence"}},
	{CategoryCode, []string{"github", "gitlab", "codespaces"}},
}

var styles = map[string]string{
	CategoryMail:     "complete sentences with standard punctuation",
	CategoryChat:     "short and conversational",
	CategoryCode:     "literal and technical",
	CategoryDocument: "polished prose",
	CategoryTerminal: "literal, no added punctuation",
}

// Detector implements destination detection on a desktop.Desktop.
type Detector struct {
	desk desktop.Desktop

	mu        sync.RWMutex
	overrides map[string]string // lowercase app name -> category

	copyWait time.Duration
}

// NewDetector returns a Detector. overrides maps application names to
// categories and wins over the built-in rules.
func NewDetector(desk desktop.Desktop, overrides map[string]string) *Detector {
	d := &Detector{desk: desk, copyWait: 300 * time.Millisecond}
	d.SetOverrides(overrides)
	return d
}

// SetOverrides replaces the category overrides.
func (d *Detector) SetOverrides(overrides map[string]string) {
	m := make(map[string]string, len(overrides))
	for name, cat := range overrides {
		m[strings.ToLower(name)] = cat
	}
	d.mu.Lock()
	d.overrides = m
	d.mu.Unlock()
}

// Detect snapshots the frontmost application and classifies it.
func (d *Detector) Detect() Snapshot {
	app := desktop.Frontmost(d.desk)
	cat := d.Classify(app)
	return Snapshot{App: app, Category: cat, Style: styles[cat]}
}

// Classify returns the category of app.
func (d *Detector) Classify(app desktop.App) string {
	name := strings.ToLower(strings.TrimSuffix(app.Name, ".exe"))

	d.mu.RLock()
	cat, ok := d.overrides[name]
	d.mu.RUnlock()
	if ok {
		return cat
	}

	cat = match(nameRules, name)
	if cat == CategoryBrowser {
		if byTitle := match(titleRules, strings.ToLower(app.Title)); byTitle != "" {
			return byTitle
		}
	}
	if cat == "" {
		return CategoryOther
	}
	return cat
}

func match(rules []rule, s string) string {
	if s == "" {
		return ""
	}
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return r.category
			}
		}
	}
	return ""
}

// selectionSentinel is put on the clipboard before copying so an empty
// selection can be told apart from stale clipboard contents.
const selectionSentinel = "\x00voxpipe-selection\x00"

// SelectedText copies the selection of the frontmost application with the
// platform copy shortcut and restores the clipboard afterwards. It returns
// false when nothing is selected.
func (d *Detector) SelectedText(ctx context.Context) (string, bool) {
	prev, err := d.desk.ReadClipboard()
	if err != nil {
		return "", false
	}
	defer func() { _ = d.desk.WriteClipboard(prev) }()

	if err := d.desk.WriteClipboard(selectionSentinel); err != nil {
		return "", false
	}
	if err := d.desk.Shortcut("c"); err != nil {
		return "", false
	}

	deadline := time.NewTimer(d.copyWait)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if text, err := d.desk.ReadClipboard(); err == nil && text != selectionSentinel {
			if strings.TrimSpace(text) == "" {
				return "", false
			}
			return text, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-deadline.C:
			return "", false
		case <-tick.C:
		}
	}
}
