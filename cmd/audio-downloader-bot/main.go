package main

import (
	"go-audio-downloader-bot/cmd/audio-downloader-bot/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
