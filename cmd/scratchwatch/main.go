package main

import "scratch-registry/internal/cli"

func main() {
	cli.Execute()
}
