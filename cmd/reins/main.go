package main

import (
	"os"

	"github.com/overwatch-ai/reins/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
