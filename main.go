package main

import (
	"os"

	"github.com/BERNARDO31P/Password-Safe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
