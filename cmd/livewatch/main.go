package main

import (
	"fmt"
	"os"

	"livewatch/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "livewatch:", err)
		os.Exit(1)
	}
}
