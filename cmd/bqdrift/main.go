package main

import (
	"os"

	"github.com/bqdrift/bqdrift/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
