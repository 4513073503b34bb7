package main

import (
	"os"

	"github.com/luminet/dimmerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
