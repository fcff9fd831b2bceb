package main

import (
	"tickwatch/internal/cli"
)

func main() {
	cli.Execute()
}
