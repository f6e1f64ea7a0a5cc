// Command fringd runs the FRING! core services: the event bus, the module
// menu coordinator, metrics and their HTTP gateway.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fringd:", err)
		os.Exit(1)
	}
}
