// Command authctl manages signing keys and database migrations for authgate.
package main

import (
	"os"

	"authgate.org/internal/obs"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		obs.Logger().WithError(err).Error("authctl")
		os.Exit(1)
	}
}
