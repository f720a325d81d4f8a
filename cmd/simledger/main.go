// Command simledger runs the simulated position ledger service and offers
// one-shot commands against the same stores.
package main

import (
	"os"

	"github.com/alanyoungcy/simledger/cmd/simledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
