package main

import (
	"os"

	"github.com/arloliu/go-dmmscan/cmd/dmmscan/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
