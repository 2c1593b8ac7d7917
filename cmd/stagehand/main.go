package main

import "github.com/framehaus/stagehand/internal/cmd"

func main() {
	cmd.Execute()
}
