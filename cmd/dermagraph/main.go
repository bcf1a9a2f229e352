package main

import (
	"os"

	"github.com/lazypower/dermagraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
