package main

import (
	"os"

	"github.com/dgnsrekt/flowrec/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
