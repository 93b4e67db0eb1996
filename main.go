package main

import (
	"os"

	"github.com/codekansas/ml-template/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
