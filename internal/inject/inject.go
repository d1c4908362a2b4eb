// Package inject delivers text to an application, either by simulating
// keystrokes or through the clipboard.
package inject

import (
	"context"
	"fmt"
	"time"

	"github.com/chaz8081/voxpipe/internal/desktop"
)

// Options configures an Injector.
type Options struct {
	Method     string        // "type" or "paste"
	FocusDelay time.Duration // wait after re-activating the target
	PasteDelay time.Duration // wait before restoring the clipboard
}

// Injector delivers text to a target application.
type Injector struct {
	desk desktop.Desktop
	opts Options
}

// NewInjector creates an Injector on desk.
// Panics if desk is nil (programmer error).
func NewInjector(desk desktop.Desktop, opts Options) *Injector {
	if desk == nil {
		panic("inject: NewInjector called with nil desktop")
	}
	if opts.PasteDelay <= 0 {
		opts.PasteDelay = 150 * time.Millisecond
	}
	return &Injector{desk: desk, opts: opts}
}

// Paste brings target to the front when another application has focus,
// then delivers text with the configured method. A zero target PID
// delivers to whatever is frontmost.
func (inj *Injector) Paste(ctx context.Context, text string, target desktop.App) error {
	if text == "" {
		return nil
	}

	if target.PID != 0 && inj.desk.FrontmostPID() != target.PID {
		if err := inj.desk.Activate(target.PID); err != nil {
			return fmt.Errorf("inject: activate %q (pid %d): %w", target.Name, target.PID, err)
		}
		if err := sleep(ctx, inj.opts.FocusDelay); err != nil {
			return err
		}
	}

	switch inj.opts.Method {
	case "type":
		inj.desk.Type(text)
		return nil
	default: // "paste"
		return inj.paste(ctx, text)
	}
}

// paste writes text to the clipboard, presses the paste shortcut and then
// restores the previous clipboard contents (best effort). When the previous
// contents could not be read, the pasted text stays on the clipboard.
func (inj *Injector) paste(ctx context.Context, text string) error {
	prev, readErr := inj.desk.ReadClipboard()

	if err := inj.desk.WriteClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	if err := inj.desk.Shortcut("v"); err != nil {
		return fmt.Errorf("inject: paste shortcut: %w", err)
	}

	// The target reads the clipboard asynchronously.
	_ = sleep(ctx, inj.opts.PasteDelay)
	if readErr == nil {
		_ = inj.desk.WriteClipboard(prev)
	}
	return nil
}

// CopyToClipboard leaves text on the clipboard without pasting it.
func (inj *Injector) CopyToClipboard(text string) error {
	if err := inj.desk.WriteClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
