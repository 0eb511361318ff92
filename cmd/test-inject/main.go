// Command test-inject is a manual test for text injection.
// It waits 3 seconds, then injects test text into the focused window.
// Focus a text editor before the countdown finishes.
//
// Usage:
//
//	go run ./cmd/test-inject [--method clipboard|typing|hybrid] [--text "..."]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/dictaflow/internal/inject"
)

func main() {
	method := flag.String("method", "hybrid", "inject method: clipboard, typing or hybrid")
	text := flag.String("text", "Hello from dictaflow!\nSecond line, with ünïcödé.", "text to inject")
	flag.Parse()

	m, err := inject.ParseMethod(*method)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Will inject %q using %q in 3 seconds...\n", *text, m)
	fmt.Println("Focus a text editor now!")

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	fmt.Printf("Target window: %q\n", inject.ActiveWindowTitle())
	inj := inject.NewSystem(m, inject.DefaultOptions())
	if err := inj.Inject(*text); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}
