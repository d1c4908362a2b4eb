// Package mock provides a test double for desktop.Desktop.
//
// The frontmost application, the clipboard and the list of running
// processes are plain fields. Shortcut("c") copies Selection to the
// clipboard; Shortcut("v") and Type record the delivered text together with
// the PID that was frontmost at that moment.
package mock

import (
	"fmt"
	"sync"

	"github.com/chaz8081/voxpipe/internal/desktop"
)

// Delivery records one paste or typed text.
type Delivery struct {
	PID    int
	Text   string
	Method string // "paste" or "type"
}

// Desktop is a mock desktop.Desktop. Safe for concurrent use.
type Desktop struct {
	mu sync.Mutex

	Front     int
	Apps      map[int]desktop.App
	Clipboard string
	Selection string

	ActivateErr error
	ClipErr     error
	ReadErr     error // fails ReadClipboard only

	Activations []int
	Deliveries  []Delivery
}

var _ desktop.Desktop = (*Desktop)(nil)

// New returns a Desktop with apps running and the first one frontmost.
func New(apps ...desktop.App) *Desktop {
	d := &Desktop{Apps: make(map[int]desktop.App)}
	for i, a := range apps {
		d.Apps[a.PID] = a
		if i == 0 {
			d.Front = a.PID
		}
	}
	return d
}

// SetFront makes pid the frontmost application.
func (d *Desktop) SetFront(pid int) {
	d.mu.Lock()
	d.Front = pid
	d.mu.Unlock()
}

// Delivered returns a copy of the recorded deliveries.
func (d *Desktop) Delivered() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Delivery(nil), d.Deliveries...)
}

// ClipboardText returns the current clipboard contents.
func (d *Desktop) ClipboardText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Clipboard
}

func (d *Desktop) FrontmostPID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Front
}

func (d *Desktop) ProcessName(pid int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.Apps[pid]
	if !ok {
		return "", fmt.Errorf("mock: no process %d", pid)
	}
	return a.Name, nil
}

func (d *Desktop) WindowTitle() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Apps[d.Front].Title
}

func (d *Desktop) Activate(pid int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Activations = append(d.Activations, pid)
	if d.ActivateErr != nil {
		return d.ActivateErr
	}
	d.Front = pid
	return nil
}

func (d *Desktop) ReadClipboard() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ClipErr != nil {
		return "", d.ClipErr
	}
	if d.ReadErr != nil {
		return "", d.ReadErr
	}
	return d.Clipboard, nil
}

func (d *Desktop) WriteClipboard(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ClipErr != nil {
		return d.ClipErr
	}
	d.Clipboard = text
	return nil
}

func (d *Desktop) Shortcut(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch key {
	case "c":
		if d.Selection != "" {
			d.Clipboard = d.Selection
		}
	case "v":
		d.Deliveries = append(d.Deliveries, Delivery{PID: d.Front, Text: d.Clipboard, Method: "paste"})
	}
	return nil
}

func (d *Desktop) Type(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Deliveries = append(d.Deliveries, Delivery{PID: d.Front, Text: text, Method: "type"})
}
