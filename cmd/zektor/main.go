// Command zektor tracks sessions through an ordered line of single-occupancy
// stages.
package main

import (
	"os"

	"github.com/Iron-Ham/zektor/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
