package main

import "optionsfi-keeper/internal/cli"

func main() {
	cli.Execute()
}
