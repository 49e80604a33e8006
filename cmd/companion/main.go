package main

import (
	"os"
)

func main() {
	cmd := NewCompanionCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
