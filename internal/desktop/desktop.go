// Package desktop wraps the OS automation calls the service needs: the
// frontmost application, the clipboard and synthetic key presses.
package desktop

import (
	"runtime"

	"github.com/go-vgo/robotgo"
)

// App identifies a running application window.
type App struct {
	PID   int
	Name  string
	Title string
}

// Desktop is the automation surface used by appctx and inject.
type Desktop interface {
	FrontmostPID() int
	ProcessName(pid int) (string, error)
	WindowTitle() string
	Activate(pid int) error

	ReadClipboard() (string, error)
	WriteClipboard(text string) error

	// Shortcut presses key together with the platform command modifier
	// (cmd on macOS, ctrl elsewhere).
	Shortcut(key string) error
	Type(text string)
}

// ModifierKey returns the platform's shortcut modifier.
func ModifierKey() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}

// Robot implements Desktop with robotgo.
type Robot struct{}

var _ Desktop = Robot{}

func (Robot) FrontmostPID() int                   { return robotgo.GetPid() }
func (Robot) ProcessName(pid int) (string, error) { return robotgo.FindName(pid) }
func (Robot) WindowTitle() string                 { return robotgo.GetTitle() }
func (Robot) Activate(pid int) error              { return robotgo.ActivePid(pid) }
func (Robot) ReadClipboard() (string, error)      { return robotgo.ReadAll() }
func (Robot) WriteClipboard(text string) error    { return robotgo.WriteAll(text) }
func (Robot) Shortcut(key string) error           { return robotgo.KeyTap(key, ModifierKey()) }

// Type simulates individual keystrokes. It leaves the clipboard alone but
// is slower than pasting for long text.
func (Robot) Type(text string) { robotgo.Type(text) }

// Frontmost returns the frontmost application.
func Frontmost(d Desktop) App {
	pid := d.FrontmostPID()
	app := App{PID: pid, Title: d.WindowTitle()}
	if name, err := d.ProcessName(pid); err == nil {
		app.Name = name
	}
	return app
}
