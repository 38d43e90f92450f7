// Command wellnessctl drives the MindWell client SDK from the terminal:
// sign in, log moods, run meditation sessions, manage habits, and stream
// realtime notifications against a live or mock server.
package main

import (
	"fmt"
	"os"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	if err := newCLIApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
