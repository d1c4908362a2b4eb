package dictionary

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const sampleYAML = `
corrections:
  - from: ["git hub", "get hub"]
    to: GitHub
  - from: ["standup"]
    to: stand-up
    apps: ["Slack"]
vocabulary:
  - Kubernetes
  - VoxPipe
  - Smyth
snippets:
  - trigger: "my address"
    expansion: "221B Baker Street, London"
`

func writeDict(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictionary.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openSample(t *testing.T) *Dictionary {
	t.Helper()
	d, err := Open(writeDict(t, sampleYAML))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d
}

func TestApplyCorrections(t *testing.T) {
	d := openSample(t)
	tests := []struct {
		name string
		text string
		app  string
		want string
	}{
		{"literal multi-word", "push it to git hub please", "", "push it to GitHub please"},
		{"variant and case", "Get Hub is down", "", "GitHub is down"},
		{"app scoped applies", "the standup moved", "slack", "the stand-up moved"},
		{"app scoped skipped", "the standup moved", "Mail", "the standup moved"},
		{"vocabulary case", "deploy to kubernetes.", "", "deploy to Kubernetes."},
		{"vocabulary split word", "open vox pipe now", "", "open VoxPipe now"},
		{"vocabulary phonetic", "ask Mr smith, he knows", "", "ask Mr Smyth, he knows"},
		{"untouched", "nothing to change here", "", "nothing to change here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.ApplyCorrections(tt.text, tt.app); got != tt.want {
				t.Errorf("ApplyCorrections(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatchSnippet(t *testing.T) {
	d := openSample(t)
	if exp, ok := d.MatchSnippet("My address."); !ok || exp != "221B Baker Street, London" {
		t.Errorf("MatchSnippet() = %q, %v", exp, ok)
	}
	if _, ok := d.MatchSnippet("send my address to Bob"); ok {
		t.Error("a trigger inside a longer sentence should not match")
	}
	if _, ok := d.MatchSnippet(""); ok {
		t.Error("empty text should not match")
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.yaml")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() on missing file error = %v", err)
	}
	if got := d.ApplyCorrections("git hub", ""); got != "git hub" {
		t.Errorf("empty dictionary changed text: %q", got)
	}

	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := d.ApplyCorrections("git hub", ""); got != "GitHub" {
		t.Errorf("after reload got %q, want GitHub", got)
	}
}

func TestReloadInvalidKeepsPrevious(t *testing.T) {
	path := writeDict(t, sampleYAML)
	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("corrections: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(); err == nil {
		t.Fatal("Reload() of invalid YAML should fail")
	}
	if got := d.ApplyCorrections("git hub", ""); got != "GitHub" {
		t.Errorf("previous contents lost: %q", got)
	}
}

func TestNewInMemory(t *testing.T) {
	d, err := New(File{Snippets: []Snippet{{Trigger: "sig", Expansion: "Best, Ana"}}})
	if err != nil {
		t.Fatal(err)
	}
	if exp, ok := d.MatchSnippet("Sig!"); !ok || exp != "Best, Ana" {
		t.Errorf("MatchSnippet() = %q, %v", exp, ok)
	}
	if err := d.Reload(); err != nil {
		t.Errorf("Reload() without a path should be a no-op, got %v", err)
	}
}

func TestCommonWordsNotSnapped(t *testing.T) {
	d, err := New(File{Vocabulary: []string{"Thinc"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.ApplyCorrections("I think so", ""); got != "I think so" {
		t.Errorf("common word was snapped: %q", got)
	}
}

func TestConcurrentReload(t *testing.T) {
	d := openSample(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = d.Reload()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.ApplyCorrections("git hub and kubernetes", "")
				d.MatchSnippet("my address")
			}
		}()
	}
	wg.Wait()
}
