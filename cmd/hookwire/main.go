// hookwire verifies, attaches and runs hook programs against the
// in-process runtime, draining their records to the terminal or a
// SQLite database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
