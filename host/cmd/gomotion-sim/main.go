// Command gomotion-sim runs G-code through the motion core on a simulated
// tick clock and reports what the machine did.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
