// Command dreadhex is the offline worldbook transformation pipeline driver.
// It consumes a HexRoll backpack file and produces the resolved world model,
// generated source tables, audit reports, and AI-written narrative content.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dreadhex: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
