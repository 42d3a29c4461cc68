// Command staffledger runs the staff rank and points ledger.
package main

import (
	"os"

	"github.com/mcstaff/staffledger/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
