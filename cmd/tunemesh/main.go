package main

import "github.com/tunemesh/tunemesh/internal/cli"

func main() {
	cli.Execute()
}
