// The main package for the telefonbuch-scraper executable.
package main

import (
	"github.com/JakeFAU/telefonbuch-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
