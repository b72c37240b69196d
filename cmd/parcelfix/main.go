// Command parcelfix runs the parcel geometry engine on WKT input: overlap
// checks, overlap resolution and ring cleanup.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
