package main

import (
	"os"

	"agentmirror/cmd/agentmirror/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
