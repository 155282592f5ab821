package main

import "github.com/stitts-dev/race-sim/internal/cli"

func main() {
	cli.Execute()
}
