// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the hotkey (Ctrl+Shift+R by default) to see events,
// or the cancel combo (Esc) to see a cancel.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle] [--keys ctrl+shift+r] [--cancel esc]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/voxpipe/internal/hotkey"
)

func main() {
	mode := flag.String("mode", "hold", "hotkey mode: hold or toggle")
	keySpec := flag.String("keys", "ctrl+shift+r", "hotkey combo, keys joined with +")
	cancelSpec := flag.String("cancel", "esc", "cancel combo, keys joined with +; empty disables")
	flag.Parse()

	keys := splitCombo(*keySpec)
	cancelKeys := splitCombo(*cancelSpec)
	fmt.Printf("Listening for %s in %q mode (cancel: %s)...\n", *keySpec, *mode, *cancelSpec)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys, *mode, cancelKeys)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventStart:
				fmt.Println(">>> START  (recording)")
			case hotkey.EventStop:
				fmt.Println("<<< STOP   (process)")
			case hotkey.EventCancel:
				fmt.Println("xxx CANCEL (discard)")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}

func splitCombo(combo string) []string {
	var keys []string
	for _, k := range strings.Split(combo, "+") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
