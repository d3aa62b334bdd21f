//go:build !linux

// jailinit needs Linux namespaces; other platforms get a binary that
// refuses to run.
package main

import (
	"fmt"
	"os"
)

func main() {
	_, _ = fmt.Fprintln(os.Stderr, "jailinit is only supported on linux")
	os.Exit(1)
}
