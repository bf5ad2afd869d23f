// Command sparkle browses and edits SparkleShare projects from a linked device.
package main

import (
	"fmt"
	"os"

	"github.com/sparkleshare/sparkleshare-go/internal/cli"
)

// version is injected with -ldflags "-X main.version=...".
var version = ""

func main() {
	if version != "" {
		cli.Version = version
	}
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
