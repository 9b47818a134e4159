// Command refiner converts a coding-assistant instruction dataset into a relational
// store, a schema document and a run summary, and optionally publishes them to IPFS.
package main

import (
	"fmt"
	"os"

	// register all backends with the storage factory.
	_ "refiner/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
