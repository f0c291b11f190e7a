package main

import (
	"os"

	"github.com/leozw/blueprint-sot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
