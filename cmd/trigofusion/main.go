package main

import (
	"os"

	"github.com/aleksaelezovic/trigofusion/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
