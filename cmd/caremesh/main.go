package main

import "github.com/dyike/CareMesh/internal/cli"

func main() {
	cli.Run()
}
