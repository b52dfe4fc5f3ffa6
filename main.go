package main

import (
	"os"

	"github.com/kidlift/kidlift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
