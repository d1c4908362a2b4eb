// Command test-inject is a manual test for text delivery.
// It waits 3 seconds, remembers the frontmost application, waits 3 more
// seconds and then delivers test text back into the remembered application.
// Focus a text editor before the first countdown finishes, then switch to
// any other window to see the target being re-activated.
//
// Usage:
//
//	go run ./cmd/test-inject [--method type|paste] [--text "..."]
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/voxpipe/internal/appctx"
	"github.com/chaz8081/voxpipe/internal/desktop"
	"github.com/chaz8081/voxpipe/internal/inject"
)

func main() {
	method := flag.String("method", "paste", "inject method: type or paste")
	text := flag.String("text", "Hello from voxpipe!", "text to deliver")
	flag.Parse()

	desk := desktop.Robot{}

	fmt.Println("Focus a text editor now!")
	countdown(3)

	target := appctx.NewDetector(desk, nil).Detect()
	fmt.Printf("Target: %s (pid %d, %s)\n", target.App.Name, target.App.PID, target.Category)
	fmt.Println("Switch to another window; the text goes to the target anyway.")
	countdown(3)

	inj := inject.NewInjector(desk, inject.Options{Method: *method, FocusDelay: 100 * time.Millisecond})
	if err := inj.Paste(context.Background(), *text, target.App); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}

func countdown(n int) {
	for i := n; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}
}
