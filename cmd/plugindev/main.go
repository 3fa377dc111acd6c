// plugindev serves browser plugin modules during development.
package main

import (
	"os"

	"github.com/hupe1980/plugindev/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
