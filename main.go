// Command assetpipe builds front-end assets and live-reloads a browser.
package main

import (
	"context"
	"os"

	"github.com/conneroisu/assetpipe/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
