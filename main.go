// The main package for the metrics-snapshot executable.
package main

import (
	"github.com/JakeFAU/metrics-snapshot-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
