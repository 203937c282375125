package main

import (
	"os"

	"github.com/banshee-data/mrsync/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
