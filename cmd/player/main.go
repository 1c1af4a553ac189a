package main

import (
	"os"

	"hls-engine/cmd/player/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
