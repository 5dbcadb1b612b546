package main

import "github.com/agentic-research/commitdag/cmd"

func main() {
	cmd.Execute()
}
