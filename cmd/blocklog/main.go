// Command blocklog inspects, rolls back and restores logged world changes.
package main

import (
	"os"

	"github.com/kilupskalvis/blocklog/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
