package main

import (
	"os"

	"github.com/danmuck/datacat/cmd/datacat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
