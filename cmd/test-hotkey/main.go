// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Shift+Space to see events and Ctrl+Shift+Escape
// for cancel. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/dictaflow/internal/hotkey"
)

func main() {
	mode := flag.String("mode", "toggle", "hotkey mode: hold or toggle")
	flag.Parse()

	keys := []string{"ctrl", "shift", "space"}
	cancel := []string{"ctrl", "shift", "escape"}
	fmt.Printf("Listening for Ctrl+Shift+Space in %q mode (cancel: Ctrl+Shift+Escape)...\n", *mode)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys, cancel, *mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventStart:
				fmt.Println(">>> START  (recording)")
			case hotkey.EventStop:
				fmt.Println("<<< STOP   (stopped)")
			case hotkey.EventToggle:
				fmt.Println("<>> TOGGLE")
			case hotkey.EventCancel:
				fmt.Println("xxx CANCEL")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
